package imapmail

import (
	"reflect"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
)

const sampleMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: quarterly numbers\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XBOUNDARY\r\n" +
	"\r\n" +
	"--XBOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Numbers attached.\r\n" +
	"--XBOUNDARY\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"\r\n" +
	"PDFDATA\r\n" +
	"--XBOUNDARY--\r\n"

func TestDecodeMessage(t *testing.T) {
	content, err := decodeMessage([]byte(sampleMessage))
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}

	if got := strings.TrimSpace(content.bodyText); got != "Numbers attached." {
		t.Errorf("body text = %q", got)
	}
	data, ok := content.attachments["report.pdf"]
	if !ok {
		t.Fatalf("report.pdf missing, have %v", keys(content.attachments))
	}
	if got := strings.TrimSpace(string(data)); got != "PDFDATA" {
		t.Errorf("attachment bytes = %q", data)
	}
}

const duplicateNameMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: two scans\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XBOUNDARY\r\n" +
	"\r\n" +
	"--XBOUNDARY\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"scan.pdf\"\r\n" +
	"\r\n" +
	"FIRST\r\n" +
	"--XBOUNDARY\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"scan.pdf\"\r\n" +
	"\r\n" +
	"SECOND\r\n" +
	"--XBOUNDARY--\r\n"

func TestDecodeMessageDuplicateNames(t *testing.T) {
	content, err := decodeMessage([]byte(duplicateNameMessage))
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}

	if len(content.attachments) != 2 {
		t.Fatalf("decoded %d parts, want both duplicates: %v",
			len(content.attachments), keys(content.attachments))
	}
	first := strings.TrimSpace(string(content.attachments["scan.pdf"]))
	second := strings.TrimSpace(string(content.attachments["scan.pdf#1"]))
	if first != "FIRST" || second != "SECOND" {
		t.Errorf("duplicate parts = %q / %q, want FIRST / SECOND", first, second)
	}
}

func pdfAttachmentPart(name string) *imap.BodyStructureSinglePart {
	return &imap.BodyStructureSinglePart{
		Type:    "application",
		Subtype: "pdf",
		Size:    7,
		Extended: &imap.BodyStructureSinglePartExt{
			Disposition: &imap.BodyStructureDisposition{
				Value:  "attachment",
				Params: map[string]string{"filename": name},
			},
		},
	}
}

func TestAttachmentsFromStructureDuplicateNames(t *testing.T) {
	bs := &imap.BodyStructureMultiPart{
		Subtype: "mixed",
		Children: []imap.BodyStructure{
			pdfAttachmentPart("scan.pdf"),
			pdfAttachmentPart("scan.pdf"),
		},
	}

	var contentKeys []string
	atts := attachmentsFromStructure(bs, func(key string) func() ([]byte, error) {
		contentKeys = append(contentKeys, key)
		return func() ([]byte, error) { return nil, nil }
	})

	if len(atts) != 2 {
		t.Fatalf("extracted %d attachments, want 2", len(atts))
	}
	for _, att := range atts {
		if att.FileName != "scan.pdf" {
			t.Errorf("file name = %q, want scan.pdf", att.FileName)
		}
	}
	// Content keys match the decode-side keys, so each accessor serves
	// its own part's bytes.
	want := []string{"scan.pdf", "scan.pdf#1"}
	if !reflect.DeepEqual(contentKeys, want) {
		t.Errorf("content keys = %v, want %v", contentKeys, want)
	}
}

func TestStripTags(t *testing.T) {
	in := "<html><body><p>Hello <b>world</b></p></body></html>"
	got := strings.Join(strings.Fields(stripTags(in)), " ")
	if got != "Hello world" {
		t.Errorf("stripTags = %q", got)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
