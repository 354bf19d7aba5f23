package runner

import (
	"strings"

	"mailcadence/internal/job"
	"mailcadence/internal/mail"
)

// CredentialProvider returns the credentials for one firing. false means
// "nothing usable"; the firing is skipped and the runner keeps going.
type CredentialProvider func(j job.Job) (mail.Credentials, bool)

// StoredCredentials reads the token persisted with the job. It is the
// provider used for jobs loaded at startup.
func StoredCredentials(j job.Job) (mail.Credentials, bool) {
	if strings.TrimSpace(j.Token) == "" && strings.TrimSpace(j.RefreshToken) == "" {
		return mail.Credentials{}, false
	}
	return mail.Credentials{Token: j.Token, RefreshToken: j.RefreshToken}, true
}

// Static always hands out c, e.g. the token issued with the request that
// created the job.
func Static(c mail.Credentials) CredentialProvider {
	return func(job.Job) (mail.Credentials, bool) {
		if c.Token == "" && c.RefreshToken == "" {
			return mail.Credentials{}, false
		}
		return c, true
	}
}
