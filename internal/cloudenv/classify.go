package cloudenv

import "strings"

// FileKind is the result of classifying a logical path by filename shape
// alone — never by probing any backend.
type FileKind int

const (
	KindOther FileKind = iota
	KindSortedData
	KindManifest
	KindIdentity
	KindLog
)

func (k FileKind) String() string {
	switch k {
	case KindSortedData:
		return "sorted-data"
	case KindManifest:
		return "manifest"
	case KindIdentity:
		return "identity"
	case KindLog:
		return "log"
	default:
		return "other"
	}
}

// Classify maps a logical path to its FileKind by filename convention,
// mirroring the storage engine's own naming scheme: NNNNNN.sst for
// sorted-data files, MANIFEST-NNNNNN for version manifests, IDENTITY for
// the instance identity marker, and NNNNNN.log for write-ahead logs.
func Classify(path string) FileKind {
	base := basename(path)

	switch {
	case base == "IDENTITY":
		return KindIdentity
	case strings.HasPrefix(base, "MANIFEST-"):
		return KindManifest
	case strings.HasSuffix(base, ".sst") || strings.HasSuffix(base, ".ldb"):
		return KindSortedData
	case strings.HasSuffix(base, ".log"):
		return KindLog
	default:
		return KindOther
	}
}

func basename(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// FileNumber extracts the numeric file number embedded in a sorted-data
// filename (e.g. "000123.sst" -> 123), used by ReadableCloudFile.GetUniqueId
// to give the engine's persistent read cache a stable identity. Returns
// false if path does not classify as sorted-data or carries no parseable
// number.
func FileNumber(path string) (int64, bool) {
	if Classify(path) != KindSortedData {
		return 0, false
	}
	base := basename(path)
	dot := strings.IndexByte(base, '.')
	if dot <= 0 {
		return 0, false
	}
	digits := base[:dot]

	var n int64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}
