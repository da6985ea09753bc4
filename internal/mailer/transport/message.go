package transport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"event-mailer/internal/common/logger"
	"event-mailer/internal/models"
)

const mailerName = "Event Mailer System"

// BuildMessage assembles the raw RFC 5322 message for a task. The body is
// multipart/alternative with the text part before the HTML part; when
// attachments exist the alternative block nests inside multipart/mixed.
// Attachments whose file is missing are logged and skipped rather than
// failing the whole message.
func BuildMessage(task *models.EmailTask, from, domain string, log logger.Logger) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader(&buf, "From", from)
	writeHeader(&buf, "To", task.Recipient)
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", task.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	// Headers that keep transactional mail out of spam folders.
	writeHeader(&buf, "Message-ID", fmt.Sprintf("<%s@%s>", task.TaskID, domain))
	writeHeader(&buf, "X-Mailer", mailerName)
	writeHeader(&buf, "X-Priority", "3")
	writeHeader(&buf, "Importance", "Normal")

	if len(task.Attachments) == 0 {
		return writeAlternativeRoot(&buf, task)
	}
	return writeMixedRoot(&buf, task, log)
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

func writeAlternativeRoot(buf *bytes.Buffer, task *models.EmailTask) ([]byte, error) {
	w := multipart.NewWriter(buf)
	writeHeader(buf, "Content-Type", "multipart/alternative; boundary="+w.Boundary())
	buf.WriteString("\r\n")

	if err := writeBodyParts(w, task); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeMixedRoot(buf *bytes.Buffer, task *models.EmailTask, log logger.Logger) ([]byte, error) {
	mixed := multipart.NewWriter(buf)
	writeHeader(buf, "Content-Type", "multipart/mixed; boundary="+mixed.Boundary())
	buf.WriteString("\r\n")

	alt := multipart.NewWriter(nil)
	altPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"multipart/alternative; boundary=" + alt.Boundary()},
	})
	if err != nil {
		return nil, err
	}
	altWriter := multipart.NewWriter(altPart)
	if err := altWriter.SetBoundary(alt.Boundary()); err != nil {
		return nil, err
	}
	if err := writeBodyParts(altWriter, task); err != nil {
		return nil, err
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}

	for _, att := range task.Attachments {
		if err := writeAttachment(mixed, att, log); err != nil {
			return nil, err
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBodyParts emits text before HTML so clients that stop at the first
// renderable part still show something.
func writeBodyParts(w *multipart.Writer, task *models.EmailTask) error {
	if task.TextBody != "" {
		if err := writeTextPart(w, "text/plain", task.TextBody); err != nil {
			return err
		}
	}
	if task.HTMLBody != "" {
		if err := writeTextPart(w, "text/html", task.HTMLBody); err != nil {
			return err
		}
	}
	return nil
}

func writeTextPart(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType + `; charset="utf-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func writeAttachment(w *multipart.Writer, att models.Attachment, log logger.Logger) error {
	data, err := os.ReadFile(att.Path)
	if err != nil {
		log.Warn("Attachment file not found, skipping", map[string]interface{}{
			"path":     att.Path,
			"filename": att.Filename,
		})
		return nil
	}

	contentType := mime.TypeByExtension(filepath.Ext(att.Path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf(`%s; name="%s"`, contentType, att.Filename)},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf(`attachment; filename="%s"`, att.Filename)},
	})
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := 76
		if len(encoded) < n {
			n = len(encoded)
		}
		if _, err := part.Write([]byte(encoded[:n])); err != nil {
			return err
		}
		if _, err := part.Write([]byte("\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

// SenderDomain extracts the Message-ID domain from a sender address,
// tolerating the "Name <addr@host>" form.
func SenderDomain(from string) string {
	addr := from
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}
