package worker

import (
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("EAS Attendance", "noreply@easuniversity.site",
		"student@easuniversity.site", "Attendance confirmed", "<p>Hi</p>"))

	wantLines := []string{
		"From: EAS Attendance <noreply@easuniversity.site>",
		"To: student@easuniversity.site",
		"Subject: Attendance confirmed",
		"Content-Type: text/html; charset=\"UTF-8\"",
	}
	for _, line := range wantLines {
		if !strings.Contains(msg, line+"\r\n") {
			t.Errorf("message missing header %q", line)
		}
	}
	parts := strings.SplitN(msg, "\r\n\r\n", 2)
	if len(parts) != 2 || parts[1] != "<p>Hi</p>" {
		t.Errorf("body = %q", msg)
	}
}
