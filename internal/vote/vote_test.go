package vote

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(nil)
	cases := []struct {
		name    string
		content string
		players int
		want    Decision
	}{
		{"kick by name", "^7player called a vote: kick ^5Spec^7Bot", 5, DecisionReject},
		{"clientkick by alias", "called a vote: clientkick DeFRaG.LIVE", 5, DecisionReject},
		{"alias with colours", "called a vote: kick ^0^7D^6e^7Frag^6.^7LIVE", 2, DecisionReject},
		{"kick someone else", "called a vote: kick griefer", 5, DecisionTally},
		{"map vote alone", "called a vote: map st1", 2, DecisionApprove},
		{"map vote crowded", "called a vote: map st1", 3, DecisionTally},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.content, "^5Spec^7Bot", tc.players))
		})
	}
}

func TestNormalize_FoldsWidthAndCase(t *testing.T) {
	assert.Equal(t, Normalize("defraglive"), Normalize("ＤｅＦＲａＧＬＩＶＥ"))
}

func TestTally_OneVotePerVoter(t *testing.T) {
	var tl Tally
	now := time.Unix(1000, 0)
	assert.False(t, tl.Cast("a", true), "closed tally ignores votes")

	tl.Open(now, 10*time.Second)
	require.True(t, tl.Active())
	assert.True(t, tl.Cast("a", true))
	assert.False(t, tl.Cast("a", false))
	assert.True(t, tl.Cast("b", false))
	assert.True(t, tl.Cast("c", false))

	yes, no := tl.Counts()
	assert.LessOrEqual(t, yes+no, 3)

	assert.False(t, tl.Due(now.Add(9*time.Second)))
	assert.True(t, tl.Due(now.Add(10*time.Second)))

	out := tl.Close()
	assert.Equal(t, Outcome{Yes: 1, No: 2, Result: ResultNo}, out)
	assert.False(t, tl.Active())
	assert.Equal(t, []string{"vote no"}, out.Commands())
	assert.Equal(t, "^31 ^2f1 ^7vs. ^32 ^1f2^7. Voting ^3f2^7.", out.Message())
}

func TestTally_SumNeverExceedsVoters(t *testing.T) {
	var tl Tally
	tl.Open(time.Unix(0, 0), time.Second)
	voters := map[string]bool{}
	for i := 0; i < 200; i++ {
		v := fmt.Sprint("v", i%17)
		voters[v] = true
		tl.Cast(v, i%3 == 0)
		yes, no := tl.Counts()
		require.LessOrEqual(t, yes+no, len(voters))
	}
}

func TestTally_TieIsNoAction(t *testing.T) {
	var tl Tally
	tl.Open(time.Unix(0, 0), time.Second)
	tl.Cast("a", true)
	tl.Cast("b", false)

	out := tl.Close()
	assert.Equal(t, ResultNone, out.Result)
	assert.Empty(t, out.Commands())
	assert.Equal(t, "^31 ^2f1 ^7vs. ^31 ^1f2^7. No action.", out.Message())
}

func TestParseChoice(t *testing.T) {
	for in, want := range map[string]bool{"f1": true, "?F1": true, " yes ": true, "f2": false, "?f2": false, "NO": false} {
		yes, ok := ParseChoice(in)
		require.True(t, ok, in)
		assert.Equal(t, want, yes, in)
	}
	_, ok := ParseChoice("f3")
	assert.False(t, ok)
}
