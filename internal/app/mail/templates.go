package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
)

type tmpl struct {
	subject *template.Template
	body    *template.Template
}

// Template helpers accept any so a missing key renders empty instead of
// failing the whole message.
var funcs = template.FuncMap{
	"bytes": func(v any) string {
		switch n := v.(type) {
		case int64:
			return humanize.Bytes(uint64(n))
		case int:
			return humanize.Bytes(uint64(n))
		}
		return ""
	},
	"ago": func(v any) string {
		if t, ok := v.(time.Time); ok && !t.IsZero() {
			return humanize.Time(t)
		}
		return ""
	},
	"date": func(v any) string {
		if t, ok := v.(time.Time); ok && !t.IsZero() {
			return t.UTC().Format("Jan 2, 2006 15:04 MST")
		}
		return ""
	},
	"ordinal": humanize.Ordinal,
}

var sources = map[notification.Kind][2]string{
	notification.KindSignatureRequested: {
		`{{.Sender}} requested your signature on "{{.Title}}"`,
		`Hello {{.Name}},

{{.Sender}} has asked you to {{.Action}} "{{.Title}}" ({{.DocumentName}}, {{bytes .DocumentSize}}).
{{- if .Position}}
You are {{ordinal .Position}} in the signing order.
{{- end}}
{{- if .Message}}

Message:
{{.Message}}
{{- end}}

Open the document here:
{{.Link}}
{{- if .ExpiresAt}}

This request expires on {{date .ExpiresAt}}.
{{- end}}
`,
	},
	notification.KindSignatureReminder: {
		`Reminder: "{{.Title}}" is waiting for you`,
		`Hello {{.Name}},

This is a reminder that "{{.Title}}" from {{.Sender}} still needs your action.
You were first notified {{ago .NotifiedAt}}.

Open the document here:
{{.Link}}
`,
	},
	notification.KindRequestCompleted: {
		`"{{.Title}}" has been completed`,
		`Hello {{.Name}},

Everyone has finished "{{.Title}}". The signed document ({{bytes .DocumentSize}}) can be downloaded here:
{{.Link}}

Document fingerprint (SHA-256): {{.SHA256}}
`,
	},
	notification.KindRequestDeclined: {
		`"{{.Title}}" was declined`,
		`Hello {{.Name}},

{{.Decliner}} declined "{{.Title}}".
{{- if .Reason}}

Reason given:
{{.Reason}}
{{- end}}

No further action is required.
`,
	},
	notification.KindRequestCancelled: {
		`"{{.Title}}" was cancelled`,
		`Hello {{.Name}},

{{.Sender}} cancelled the signature request "{{.Title}}". No further action is required.
`,
	},
	notification.KindRequestExpired: {
		`"{{.Title}}" has expired`,
		`Hello {{.Name}},

The signature request "{{.Title}}" expired on {{date .ExpiresAt}} before every participant finished.
`,
	},
	notification.KindInvitation: {
		`You have been invited to join {{.Organization}}`,
		`Hello,

{{.Inviter}} invited you to join {{.Organization}} on signflow as {{.Role}}.

Accept the invitation here:
{{.Link}}

The invitation expires on {{date .ExpiresAt}}.
`,
	},
	notification.KindPasswordReset: {
		`Reset your signflow password`,
		`Hello {{.Name}},

Someone asked to reset the password for this account. If that was you, follow this link:
{{.Link}}

The link expires on {{date .ExpiresAt}}. If you did not ask for a reset you can ignore this email.
`,
	},
}

var templates = mustParse()

func mustParse() map[notification.Kind]tmpl {
	out := make(map[notification.Kind]tmpl, len(sources))
	for kind, src := range sources {
		out[kind] = tmpl{
			subject: template.Must(template.New(string(kind) + ".subject").Funcs(funcs).Option("missingkey=zero").Parse(src[0])),
			body:    template.Must(template.New(string(kind) + ".body").Funcs(funcs).Option("missingkey=zero").Parse(src[1])),
		}
	}
	return out
}

// Render produces the subject and body for a notification kind.
func Render(kind notification.Kind, data map[string]any) (subject, body string, err error) {
	t, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("mail: no template for %q", kind)
	}
	var buf bytes.Buffer
	if err := t.subject.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("mail: render subject: %w", err)
	}
	subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := t.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("mail: render body: %w", err)
	}
	return subject, buf.String(), nil
}
