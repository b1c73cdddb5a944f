package analyzer

import (
	"fmt"
	"strings"

	"github.com/ignite/phishtriage/internal/domain"
)

const (
	tinyAttachmentBytes = 100
	hugeAttachmentBytes = 25 << 20
)

var dangerousExtensions = map[string]bool{
	"exe": true, "scr": true, "bat": true, "cmd": true, "com": true,
	"pif": true, "vbs": true, "vbe": true, "js": true, "jse": true,
	"wsf": true, "jar": true, "msi": true, "ps1": true, "hta": true,
	"cpl": true, "lnk": true,
}

var macroExtensions = map[string]bool{
	"docm": true, "xlsm": true, "pptm": true, "dotm": true,
	"xltm": true, "potm": true,
}

var archiveExtensions = map[string]bool{
	"zip": true, "rar": true, "7z": true, "tar": true, "gz": true,
	"bz2": true, "iso": true,
}

var benignExtensions = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
	"ppt": true, "pptx": true, "txt": true, "csv": true, "jpg": true,
	"jpeg": true, "png": true, "gif": true, "html": true,
}

// AnalyzeAttachments flags dangerous filename patterns and size
// anomalies. Content is never inspected; only metadata is available.
func AnalyzeAttachments(email domain.Email) Report {
	var report Report
	for _, att := range email.Attachments {
		analyzeAttachment(&report, att)
	}
	return report
}

func analyzeAttachment(report *Report, att domain.Attachment) {
	name := strings.ToLower(att.Filename)
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return
	}
	ext := parts[len(parts)-1]

	switch {
	case dangerousExtensions[ext]:
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorAttachment,
			Severity:    domain.SeverityCritical,
			Description: "Attachment is an executable file type",
			Evidence:    att.Filename,
			Confidence:  0.95,
		})
	case macroExtensions[ext]:
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorAttachment,
			Severity:    domain.SeverityHigh,
			Description: "Attachment is a macro-enabled Office document",
			Evidence:    att.Filename,
			Confidence:  0.85,
		})
	case archiveExtensions[ext]:
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorAttachment,
			Severity:    domain.SeverityMedium,
			Description: "Attachment is an archive that may conceal its contents",
			Evidence:    att.Filename,
			Confidence:  0.6,
		})
	}

	// report.pdf.exe style names: a benign-looking extension hiding a
	// dangerous final one.
	if len(parts) >= 3 && dangerousExtensions[ext] && benignExtensions[parts[len(parts)-2]] {
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorAttachment,
			Severity:    domain.SeverityCritical,
			Description: "Attachment uses a deceptive double extension",
			Evidence:    att.Filename,
			Confidence:  0.98,
		})
	}

	if att.Size > 0 && att.Size < tinyAttachmentBytes {
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorAttachment,
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("Attachment is suspiciously small (%d bytes)", att.Size),
			Evidence:    att.Filename,
			Confidence:  0.7,
		})
	} else if att.Size > hugeAttachmentBytes {
		report.add(domain.ThreatIndicator{
			Kind:        domain.IndicatorAttachment,
			Severity:    domain.SeverityLow,
			Description: "Attachment exceeds 25 MiB",
			Evidence:    att.Filename,
			Confidence:  0.5,
		})
	}
}
