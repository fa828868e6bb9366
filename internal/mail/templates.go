package mail

import (
	"bytes"
	"html/template"
)

var visitorTmpl = template.Must(template.New("visitor").Parse(`<p>Hello {{.Name}},</p>
<p>Your visit request has been approved.</p>
<p>Attached is your unique QR code. Use it to check in and out during your visit, and again on future visits.</p>
<p>Please keep it safe and do not share it with others.</p>
<br>
<p>Regards,<br>Visitor Management</p>
`))

var groupTmpl = template.Must(template.New("group").Parse(`<p>Hello {{.Name}},</p>
<p>Your group visit request has been approved.</p>
<p>Attached are:</p>
<ul>
<li><strong>Individual QR Code:</strong> use this to check in or out on your own.</li>
<li><strong>Group QR Code:</strong> use this to check the whole group in or out at once.</li>
</ul>
<p>Please keep these codes safe and do not share them outside your group.</p>
<br>
<p>Regards,<br>Visitor Management</p>
`))

func render(t *template.Template, name string) string {
	var buf bytes.Buffer
	// Templates are static; execution only fails on a writer error.
	_ = t.Execute(&buf, struct{ Name string }{name})
	return buf.String()
}

// VisitorQR builds the approval mail for a single visitor.
func VisitorQR(name, email, code string, png []byte) Message {
	return Message{
		To:      email,
		ToName:  name,
		Subject: "Your Visitor QR Code",
		HTML:    render(visitorTmpl, name),
		Attachments: []Attachment{
			{Name: "qr_" + code + ".png", Content: png},
		},
	}
}

// GroupQR builds the approval mail for one member of a group.  It carries
// both the member's own code and the shared group code.
func GroupQR(name, email string, memberPNG, groupPNG []byte) Message {
	return Message{
		To:      email,
		ToName:  name,
		Subject: "Your Group & Visitor QR Codes",
		HTML:    render(groupTmpl, name),
		Attachments: []Attachment{
			{Name: "Individual-QR.png", Content: memberPNG},
			{Name: "Group-QR.png", Content: groupPNG},
		},
	}
}
