package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	"strings"
	"text/template"
	"time"

	"examshield/internal/license"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	plainTemplates = template.Must(template.ParseFS(templateFS, "templates/*.txt.tmpl"))
	htmlTemplates  = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl"))
)

const dateLayout = "January 02, 2006"

// Message is a rendered email ready for dispatch
type Message struct {
	To      string
	Subject string
	Plain   string
	HTML    string
}

type licenseView struct {
	Name          string
	Key           string
	DeviceType    string
	DeviceLimit   string
	Activated     string
	Expires       string
	TransactionID string
	Amount        string
	TrialExpires  string
	PaymentURL    string
}

func newLicenseView(rec *license.Record, paymentURL string) licenseView {
	name := rec.Name
	if name == "" {
		name = "Customer"
	}
	amount := rec.PaymentAmount
	if amount.IsZero() {
		amount = license.PriceFor(rec.DeviceType)
	}
	txn := rec.TransactionID
	if txn == "" {
		txn = "N/A"
	}
	return licenseView{
		Name:          name,
		Key:           rec.Key,
		DeviceType:    titleCase(rec.DeviceType),
		DeviceLimit:   deviceLimitText(rec.DeviceLimit),
		Activated:     formatDate(rec.Activated),
		Expires:       formatDate(rec.Expires),
		TransactionID: txn,
		Amount:        amount.StringFixed(2),
		TrialExpires:  formatDate(rec.TrialExpires),
		PaymentURL:    paymentURL,
	}
}

// ActivatedMessage renders the license activation email
func ActivatedMessage(rec *license.Record) (Message, error) {
	return render(rec.Email,
		fmt.Sprintf("Your ExamShield License is Activated - %s", rec.Key),
		"activated", newLicenseView(rec, ""))
}

// TrialMessage renders the trial started email
func TrialMessage(rec *license.Record, paymentURL string) (Message, error) {
	return render(rec.Email, "Your ExamShield Trial Has Started", "trial", newLicenseView(rec, paymentURL))
}

func render(to, subject, name string, view licenseView) (Message, error) {
	var plain, html bytes.Buffer
	if err := plainTemplates.ExecuteTemplate(&plain, name+".txt.tmpl", view); err != nil {
		return Message{}, fmt.Errorf("render %s plaintext: %w", name, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html.tmpl", view); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}
	return Message{To: to, Subject: subject, Plain: plain.String(), HTML: html.String()}, nil
}

func deviceLimitText(limit int) string {
	if limit >= license.UnlimitedDevices {
		return "Unlimited devices"
	}
	if limit == 1 {
		return "1 device"
	}
	return strconv.Itoa(limit) + " devices"
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.UTC().Format(dateLayout)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
