package docstore

import (
	"strings"

	"conclave/internal/domain"
)

// NormalizePath lexically cleans a document path relative to the store
// root. Leading slashes are ignored and ".." segments that would climb
// above the root are dropped, so the result can never name a key outside
// the root. The root itself ("" after cleaning) is rejected.
//
// NormalizePath never touches a filesystem.
func NormalizePath(p string) (string, error) {
	cleaned, err := cleanRelative(p)
	if err != nil {
		return "", err
	}
	if cleaned == "" {
		return "", domain.NewDomainError("docstore.NormalizePath", domain.ErrInvalidPath, "path resolves to the store root")
	}
	return cleaned, nil
}

// normalizeDir is NormalizePath for list prefixes: the root is allowed and
// reported as "".
func normalizeDir(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", nil
	}
	return cleanRelative(p)
}

func cleanRelative(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", domain.NewDomainError("docstore.NormalizePath", domain.ErrInvalidPath, "empty path")
	}
	if strings.ContainsRune(p, 0) {
		return "", domain.NewDomainError("docstore.NormalizePath", domain.ErrInvalidPath, "path contains NUL")
	}

	segs := make([]string, 0, strings.Count(p, "/")+1)
	for seg := range strings.SplitSeq(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			// Above the root there is nothing to pop; the segment is dropped.
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, seg)
		}
	}
	return strings.Join(segs, "/"), nil
}
