package multiagent

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"DMD Research! v2", "dmd_research_v2"},
		{"alice", "alice"},
		{"  Leading and trailing  ", "leading_and_trailing"},
		{"snake__case__id", "snake_case_id"},
		{"__x__", "x"},
		{"a-b.c/d", "a_b_c_d"},
		{"../../etc/passwd", "etc_passwd"},
		{"Ünïcödé", "n_c_d"},
		{"", DefaultAgentID},
		{"!!!", DefaultAgentID},
		{"___", DefaultAgentID},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeID(tt.in))
		})
	}
}

func TestSanitizeID_IdempotentAndTotal(t *testing.T) {
	valid := regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)
	inputs := []string{
		"", " ", "A", "a b", "a  b", "_a_", "Zeta!!Alpha", "x\x00y", "\t\n", "日本語",
		"one_two__three", "UPPER lower 123", "-dash-", "a.b.c", "..", "agent",
	}
	for _, in := range inputs {
		once := SanitizeID(in)
		assert.Equal(t, once, SanitizeID(once), "input %q", in)
		assert.NotEmpty(t, once)
		assert.Regexp(t, valid, once, "input %q", in)
	}
}

func TestSessionOf(t *testing.T) {
	assert.Equal(t, "s1", SessionOf(orchestratorKey("s1")))
	assert.Equal(t, "s1", SessionOf("s1"))
	assert.Equal(t, specialistKey("s1", "alpha"), SessionOf(specialistKey("s1", "alpha")))
}
