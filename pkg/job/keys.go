package job

import (
	"path"
	"strings"
)

const (
	// ResultSuffix is appended to the input basename for the annotated result.
	ResultSuffix = ".annot.vcf"

	// LogSuffix is appended to the input basename for the tool's count log.
	LogSuffix = ".vcf.count.log"

	// KeySeparator separates the job id from the file name in object keys.
	KeySeparator = "~"

	// ReceiptSuffix is appended to a result key to name its archive receipt.
	ReceiptSuffix = ".archive"
)

// Basename strips everything from the first '.' of an input file name:
// "sample.vcf" -> "sample", "a.b.vcf" -> "a".
func Basename(inputFileName string) string {
	name := path.Base(strings.TrimSpace(inputFileName))
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}

// ResultFileName is the name the tool writes the result under in the working area.
func ResultFileName(inputFileName string) string {
	return Basename(inputFileName) + ResultSuffix
}

// LogFileName is the name the tool writes the log under in the working area.
func LogFileName(inputFileName string) string {
	return Basename(inputFileName) + LogSuffix
}

// ResultKey returns the hot-storage key of a job's result artifact:
// <owner_path>/<job_id>~<basename>.annot.vcf
func ResultKey(ownerPath, jobID, inputFileName string) string {
	return joinKey(ownerPath, jobID+KeySeparator+ResultFileName(inputFileName))
}

// LogKey returns the hot-storage key of a job's log artifact:
// <owner_path>/<job_id>~<basename>.vcf.count.log
func LogKey(ownerPath, jobID, inputFileName string) string {
	return joinKey(ownerPath, jobID+KeySeparator+LogFileName(inputFileName))
}

// ReceiptKey returns the key of the archive receipt kept next to a result
// while it is being migrated to the vault.
func ReceiptKey(resultKey string) string {
	return resultKey + ReceiptSuffix
}

// InputKey returns the key an input is uploaded under:
// <prefix>/<user_id>/<job_id>~<input_file_name>
func InputKey(prefix, userID, jobID, inputFileName string) string {
	return joinKey(joinKey(prefix, userID), jobID+KeySeparator+path.Base(inputFileName))
}

// OwnerPath returns the first two segments of an object key
// ("<prefix>/<user_id>"). Keys with fewer segments yield their directory.
func OwnerPath(key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) <= 1 {
		return ""
	}
	if len(parts) == 2 {
		return parts[0]
	}
	return strings.Join(parts[:2], "/")
}

// KeyParts is the decomposition of a result key.
type KeyParts struct {
	OwnerPath string
	JobID     string
	FileName  string // "<job_id>~<basename>.annot.vcf"
}

// ParseResultKey splits a hot-storage result key into owner path, job id,
// and file name. ok is false when the key does not carry a job id.
func ParseResultKey(key string) (KeyParts, bool) {
	key = strings.Trim(key, "/")
	dir, file := path.Split(key)
	jobID, rest, found := strings.Cut(file, KeySeparator)
	if !found || jobID == "" || rest == "" {
		return KeyParts{}, false
	}
	return KeyParts{
		OwnerPath: strings.TrimSuffix(dir, "/"),
		JobID:     jobID,
		FileName:  file,
	}, true
}

// JobIDFromFileName extracts the job id from "<job_id>~<name>".
func JobIDFromFileName(fileName string) string {
	jobID, _, found := strings.Cut(path.Base(fileName), KeySeparator)
	if !found {
		return ""
	}
	return jobID
}

func joinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
