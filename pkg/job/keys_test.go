package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasename(t *testing.T) {
	assert.Equal(t, "sample", Basename("sample.vcf"))
	assert.Equal(t, "free_1", Basename("free_1.vcf.gz"))
	assert.Equal(t, "noext", Basename("noext"))
	assert.Equal(t, "sample", Basename("dir/sample.vcf"))
}

func TestResultAndLogKeys(t *testing.T) {
	assert.Equal(t, "gas/user-1/job-1~sample.annot.vcf", ResultKey("gas/user-1", "job-1", "sample.vcf"))
	assert.Equal(t, "gas/user-1/job-1~sample.vcf.count.log", LogKey("gas/user-1", "job-1", "sample.vcf"))
	assert.Equal(t, "job-1~sample.annot.vcf", ResultKey("", "job-1", "sample.vcf"))
	assert.Equal(t, "gas/user-1/job-1~sample.annot.vcf.archive", ReceiptKey(ResultKey("gas/user-1", "job-1", "sample.vcf")))
}

func TestInputKey(t *testing.T) {
	assert.Equal(t, "gas/user-1/job-1~sample.vcf", InputKey("gas", "user-1", "job-1", "sample.vcf"))
	assert.Equal(t, "gas/user-1/job-1~sample.vcf", InputKey("gas/", "user-1", "job-1", "/tmp/sample.vcf"))
}

func TestOwnerPath(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"gas/user-1/job-1~sample.vcf", "gas/user-1"},
		{"/gas/user-1/job-1~sample.vcf", "gas/user-1"},
		{"user-1/job-1~sample.vcf", "user-1"},
		{"job-1~sample.vcf", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, OwnerPath(tt.key))
		})
	}
}

func TestParseResultKey(t *testing.T) {
	parts, ok := ParseResultKey("gas/user-1/job-1~sample.annot.vcf")
	require.True(t, ok)
	assert.Equal(t, "gas/user-1", parts.OwnerPath)
	assert.Equal(t, "job-1", parts.JobID)
	assert.Equal(t, "job-1~sample.annot.vcf", parts.FileName)

	_, ok = ParseResultKey("gas/user-1/sample.annot.vcf")
	assert.False(t, ok)

	_, ok = ParseResultKey("gas/user-1/~sample.annot.vcf")
	assert.False(t, ok)
}

func TestJobIDFromFileName(t *testing.T) {
	assert.Equal(t, "job-1", JobIDFromFileName("job-1~sample.annot.vcf"))
	assert.Equal(t, "job-1", JobIDFromFileName("gas/user/job-1~sample.annot.vcf"))
	assert.Equal(t, "", JobIDFromFileName("sample.annot.vcf"))
}
