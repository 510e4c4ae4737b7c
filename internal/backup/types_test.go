package backup

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableListValueDistinguishesNilFromEmpty(t *testing.T) {
	var nilList TableList
	v, err := nilList.Value()
	require.NoError(t, err)
	assert.Nil(t, v, "nil list must serialize to SQL NULL")

	empty := TableList{}
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)
}

func TestTableListScan(t *testing.T) {
	var tl TableList
	require.NoError(t, tl.Scan([]byte(`["users","orders"]`)))
	assert.Equal(t, TableList{"users", "orders"}, tl)

	var fromString TableList
	require.NoError(t, fromString.Scan(`["users"]`))
	assert.Equal(t, TableList{"users"}, fromString)

	var fromNil TableList
	require.NoError(t, fromNil.Scan(nil))
	assert.Nil(t, fromNil)

	var bad TableList
	require.Error(t, bad.Scan(42))
}

func TestTableListContains(t *testing.T) {
	tl := TableList{"users", "orders"}
	assert.True(t, tl.Contains("users"))
	assert.False(t, tl.Contains("payments"))
}

func TestBackupStateMachine(t *testing.T) {
	cases := []struct {
		from    BackupStatus
		to      BackupStatus
		allowed bool
	}{
		{BackupStatusPending, BackupStatusInProgress, true},
		{BackupStatusPending, BackupStatusCompleted, false},
		{BackupStatusInProgress, BackupStatusCompleted, true},
		{BackupStatusInProgress, BackupStatusFailed, true},
		{BackupStatusInProgress, BackupStatusPending, false},
		{BackupStatusCompleted, BackupStatusDeleted, true},
		{BackupStatusFailed, BackupStatusDeleted, true},
		{BackupStatusCompleted, BackupStatusInProgress, false},
		{BackupStatusDeleted, BackupStatusPending, false},
	}

	for _, tc := range cases {
		b := &Backup{Status: tc.from}
		assert.Equal(t, tc.allowed, b.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestBackupIsTerminal(t *testing.T) {
	assert.False(t, (&Backup{Status: BackupStatusPending}).IsTerminal())
	assert.False(t, (&Backup{Status: BackupStatusInProgress}).IsTerminal())
	assert.True(t, (&Backup{Status: BackupStatusCompleted}).IsTerminal())
	assert.True(t, (&Backup{Status: BackupStatusFailed}).IsTerminal())
	assert.True(t, (&Backup{Status: BackupStatusDeleted}).IsTerminal())
}

func TestGenerateCode(t *testing.T) {
	pattern := regexp.MustCompile(`^bkp-\d{8}-\d{6}-[0-9a-f]{8}$`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code := GenerateCode("bkp")
		assert.Regexp(t, pattern, code)
		assert.False(t, seen[code], "codes must be unique")
		seen[code] = true
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := NewDatabaseError("connection lost", nil)
	err := NewStorageError("write failed", cause)

	assert.Contains(t, err.Error(), "storage")
	assert.Contains(t, err.Error(), "write failed")
	assert.Equal(t, cause, err.Unwrap())

	assert.True(t, IsType(err, ErrorTypeStorage))
	assert.False(t, IsType(err, ErrorTypeValidation))
}

func TestValidationErrorsAccumulator(t *testing.T) {
	v := &ValidationErrors{}
	assert.False(t, v.HasErrors())
	assert.NoError(t, v.AsError())

	v.Add("name", "is required")
	v.Add("timeOfDay", "must be HH:MM")
	assert.True(t, v.HasErrors())

	err := v.AsError()
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeValidation))
	assert.Contains(t, err.Error(), "name: is required")
	assert.Contains(t, err.Error(), "timeOfDay: must be HH:MM")
}
