package extractor

import "strings"

// detectHTMLVersion derives a version label from the document's DOCTYPE
// declaration. The scan is case-insensitive over the raw source because the
// parser normalizes doctypes away from their original spelling. A missing
// or unrecognized doctype is not an error; the version is simply absent.
func detectHTMLVersion(rawHTML string) *string {
	lower := strings.ToLower(rawHTML)

	if strings.Contains(lower, "<!doctype html>") || strings.Contains(lower, "<!doctype html ") {
		return versionPtr("HTML5")
	}
	if strings.Contains(lower, "html 4.01") {
		return versionPtr("HTML4.01" + variantSuffix(lower))
	}
	if strings.Contains(lower, "xhtml 1.0") {
		return versionPtr("XHTML1.0" + variantSuffix(lower))
	}
	if strings.Contains(lower, "xhtml 1.1") {
		return versionPtr("XHTML1.1")
	}
	return nil
}

func variantSuffix(lower string) string {
	switch {
	case strings.Contains(lower, "strict"):
		return " Strict"
	case strings.Contains(lower, "transitional"):
		return " Transitional"
	case strings.Contains(lower, "frameset"):
		return " Frameset"
	default:
		return ""
	}
}

func versionPtr(v string) *string {
	return &v
}
