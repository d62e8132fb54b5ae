package frontend

//go:generate templ generate

import "github.com/taskflow/taskflow/internal/app/taskview"

var filterLabels = []struct {
	filter taskview.Filter
	label  string
}{
	{taskview.FilterAll, "All"},
	{taskview.FilterActive, "Active"},
	{taskview.FilterCompleted, "Completed"},
}

var sortLabels = []struct {
	order taskview.SortOrder
	label string
}{
	{taskview.SortCreatedDesc, "Newest first"},
	{taskview.SortCreatedAsc, "Oldest first"},
	{taskview.SortTitleAsc, "Title (A-Z)"},
	{taskview.SortTitleDesc, "Title (Z-A)"},
}

func authTitle(mode taskview.AuthMode) string {
	if mode == taskview.AuthSignup {
		return "Sign Up"
	}
	return "Login"
}

func authSwitchLabel(mode taskview.AuthMode) string {
	if mode == taskview.AuthSignup {
		return "Login"
	}
	return "Sign Up"
}

func formTitle(editingID string) string {
	if editingID != "" {
		return "Edit Task"
	}
	return "Add New Task"
}

func formSubmitLabel(editingID string) string {
	if editingID != "" {
		return "Update Task"
	}
	return "Save Task"
}

// dateInfo is the "Created: ... | Due: ..." line under a task title.
func dateInfo(t taskview.Task) string {
	created := "N/A"
	if !t.CreatedAt.IsZero() {
		created = taskview.DateOf(t.CreatedAt).String()
	}
	out := "Created: " + created
	if t.DueDate != nil {
		out += " | Due: " + t.DueDate.String()
	}
	return out
}

func toggleLabel(t taskview.Task) string {
	if t.Completed {
		return "Unmark"
	}
	return "Complete"
}

func toggleClass(t taskview.Task) string {
	if t.Completed {
		return "secondary"
	}
	return "complete"
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
