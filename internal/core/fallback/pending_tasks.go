package fallback

import "strings"

func init() {
	Register(&fileFixer{
		name:        "pending-tasks",
		description: "renames ExperimentalPendingTasks to PendingTasks",
		ext:         ".ts",
		action:      "renamed ExperimentalPendingTasks to PendingTasks",
		rewrite: func(content string) string {
			return strings.ReplaceAll(content, "ExperimentalPendingTasks", "PendingTasks")
		},
	})
}
