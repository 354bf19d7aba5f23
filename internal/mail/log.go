package mail

import (
	"context"

	logx "mailcadence/pkg/logx"
)

// LogTransport only logs what would be sent. Useful for dry runs.
type LogTransport struct {
	log logx.Logger
}

func NewLogTransport(log logx.Logger) *LogTransport {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogTransport{log: log.With(logx.String("comp", "mail.log"))}
}

func (t *LogTransport) Send(ctx context.Context, creds Credentials, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Info("mail (dry run)",
		logx.Strings("to", msg.To),
		logx.String("subject", msg.Subject),
		logx.Int("body_len", len(msg.Body)),
		logx.Int("attachments", len(msg.Attachments)),
		logx.Bool("token_set", creds.Token != ""),
	)
	return nil
}
