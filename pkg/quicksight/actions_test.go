package quicksight

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
)

func TestActionsFor(t *testing.T) {
	read := actionsFor("dataset", state.PermissionRead)
	assert.Equal(t, readActions["dataset"], read)

	write := actionsFor("dataset", state.PermissionWrite)
	assert.Len(t, write, len(readActions["dataset"])+len(writeActions["dataset"]))
	assert.Subset(t, write, readActions["dataset"], "WRITE includes everything READ has")
	assert.Contains(t, write, "quicksight:UpdateDataSetPermissions")

	assert.Equal(t, readActions["theme"], allActions("theme"), "read-only categories have no wider union")
}

func TestActionsForDoesNotAliasReadList(t *testing.T) {
	write := actionsFor("dataset", state.PermissionWrite)
	write[0] = "tampered"
	assert.Equal(t, "quicksight:DescribeDataSet", readActions["dataset"][0])
}

func TestLevelOf(t *testing.T) {
	tests := []struct {
		name     string
		category string
		actions  []string
		want     state.PermissionLevel
	}{
		{
			name:     "read actions only",
			category: "dataset",
			actions:  readActions["dataset"],
			want:     state.PermissionRead,
		},
		{
			name:     "single write action",
			category: "dataset",
			actions:  []string{"quicksight:DescribeDataSet", "quicksight:UpdateDataSet"},
			want:     state.PermissionWrite,
		},
		{
			name:     "read-only category always reads",
			category: "dashboard",
			actions:  []string{"quicksight:QueryDashboard"},
			want:     state.PermissionRead,
		},
		{
			name:     "empty list reads",
			category: "analysis",
			actions:  nil,
			want:     state.PermissionRead,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, levelOf(tt.category, tt.actions))
		})
	}
}
