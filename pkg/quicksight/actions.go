package quicksight

import "github.com/PremiereGlobal/quicksight-admin/pkg/state"

// Per-category IAM action lists. A level maps to a fixed list: READ is the
// category's read list, WRITE is read plus the write list. Categories with
// no write list only support READ, which the manifest validator enforces
// before anything reaches this package.
var readActions = map[string][]string{
	"dataset": {
		"quicksight:DescribeDataSet",
		"quicksight:DescribeDataSetPermissions",
		"quicksight:PassDataSet",
		"quicksight:DescribeIngestion",
		"quicksight:ListIngestions",
	},
	"dashboard": {
		"quicksight:DescribeDashboard",
		"quicksight:ListDashboardVersions",
		"quicksight:QueryDashboard",
	},
	"analysis": {
		"quicksight:DescribeAnalysis",
		"quicksight:DescribeAnalysisPermissions",
		"quicksight:QueryAnalysis",
	},
	"theme": {
		"quicksight:DescribeTheme",
		"quicksight:DescribeThemeAlias",
		"quicksight:ListThemeAliases",
		"quicksight:ListThemeVersions",
	},
}

var writeActions = map[string][]string{
	"dataset": {
		"quicksight:UpdateDataSet",
		"quicksight:DeleteDataSet",
		"quicksight:CreateIngestion",
		"quicksight:CancelIngestion",
		"quicksight:UpdateDataSetPermissions",
	},
	"analysis": {
		"quicksight:UpdateAnalysis",
		"quicksight:DeleteAnalysis",
		"quicksight:UpdateAnalysisPermissions",
	},
}

// actionsFor returns the action list a level grants on a category.
func actionsFor(category string, level state.PermissionLevel) []string {
	actions := append([]string{}, readActions[category]...)
	if level == state.PermissionWrite {
		actions = append(actions, writeActions[category]...)
	}
	return actions
}

// allActions is the union used when clearing a principal's entry.
func allActions(category string) []string {
	return actionsFor(category, state.PermissionWrite)
}

// levelOf classifies an existing grant by its action list. Anything
// carrying a write action counts as WRITE, everything else as READ.
func levelOf(category string, actions []string) state.PermissionLevel {
	writes := writeActions[category]
	for _, action := range actions {
		for _, write := range writes {
			if action == write {
				return state.PermissionWrite
			}
		}
	}
	return state.PermissionRead
}
