package enrich

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatvault/internal/history"
)

var vocab = []string{"Cooking", "Programming"}

func TestParseResults_KeyedByIDNotPosition(t *testing.T) {
	input := strings.Join([]string{
		`b|succeeded|{"cluster_label":"Programming","summary":"B."}`,
		``,
		`a|succeeded|{"cluster_label":"COOKING","summary":" A. "}`,
	}, "\n")

	got, skipped, err := ParseResults(strings.NewReader(input), &fakeBackend{}, vocab)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Equal(t, []history.Enrichment{
		{ID: "b", Label: "Programming", Summary: "B."},
		{ID: "a", Label: "Cooking", Summary: "A."},
	}, got)
}

func TestParseResults_DefaultsAndSkips(t *testing.T) {
	input := strings.Join([]string{
		`a|succeeded|{"summary":"no label"}`,
		`b|succeeded|{"cluster_label":"Gardening","summary":"off vocabulary","instructions":"  "}`,
		`c|succeeded|Sorry, I cannot help with that.`,
		`d|expired|`,
		`not a result line`,
		`|succeeded|{"cluster_label":"Cooking"}`,
		`e|succeeded|{"cluster_label":"Cooking"}`,
		`e|succeeded|{"cluster_label":"Programming","summary":"later wins"}`,
	}, "\n")

	got, skipped, err := ParseResults(strings.NewReader(input), &fakeBackend{}, vocab)
	require.NoError(t, err)
	require.Equal(t, 4, skipped)
	require.Len(t, got, 3)

	require.Equal(t, Uncategorized, got[0].Label)
	require.Equal(t, "no label", got[0].Summary)
	require.Equal(t, Uncategorized, got[1].Label)
	require.Nil(t, got[1].Instructions)
	require.Equal(t, "e", got[2].ID)
	require.Equal(t, "Programming", got[2].Label)
	require.Equal(t, "later wins", got[2].Summary)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "a", "b")
	instr := "be brief"
	enr := []history.Enrichment{
		{ID: "b", Label: "Programming", Summary: "B.", Instructions: &instr},
		{ID: "ghost", Label: "Cooking", Summary: "no such row"},
		{ID: "a", Label: "Cooking", Summary: "A."},
	}

	n, err := Reconcile(ctx, store, enr)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	first, err := store.ListAll(ctx)
	require.NoError(t, err)

	n, err = Reconcile(ctx, store, enr)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	second, err := store.ListAll(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, second, 2)
	require.Equal(t, "be brief", *second[1].Instructions)
}

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels("Here you go:\n" + `{"labels":["Cooking"," cooking ","Travel Plans",""]}`)
	require.NoError(t, err)
	require.Equal(t, []string{"Cooking", "Travel Plans"}, labels)

	_, err = parseLabels("no json here")
	require.Error(t, err)
}
