package redmine

// Ref is a minimal id/name reference used for nested tracker entities.
type Ref struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Issue is a tracked work item.
type Issue struct {
	ID          int    `json:"id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Project     Ref    `json:"project"`
	Tracker     Ref    `json:"tracker"`
	Status      Ref    `json:"status"`
	Priority    Ref    `json:"priority"`
	Author      Ref    `json:"author"`
	AssignedTo  *Ref   `json:"assigned_to,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	DoneRatio   int    `json:"done_ratio"`
	CreatedOn   string `json:"created_on"`
	UpdatedOn   string `json:"updated_on"`
}

// Project is a tracker project.
type Project struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Identifier  string `json:"identifier"`
	Description string `json:"description"`
	Status      int    `json:"status"`
	CreatedOn   string `json:"created_on"`
}

// Membership links a user or group to a project with a set of roles.
type Membership struct {
	ID      int   `json:"id"`
	Project Ref   `json:"project"`
	User    *Ref  `json:"user,omitempty"`
	Group   *Ref  `json:"group,omitempty"`
	Roles   []Ref `json:"roles"`
}

// Version is a project milestone/target version.
type Version struct {
	ID      int    `json:"id"`
	Project Ref    `json:"project"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	DueDate string `json:"due_date,omitempty"`
}

// Tracker is an issue type (bug, feature, ...).
type Tracker struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// IssueStatus is a workflow status.
type IssueStatus struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsClosed bool   `json:"is_closed"`
}

// User is a tracker account.
type User struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Mail      string `json:"mail"`
}

// IssuePayload is the writable subset of an issue used for create and
// update requests. Zero fields are omitted so partial updates only touch
// what the caller set.
type IssuePayload struct {
	ProjectID      int      `json:"project_id,omitempty"`
	TrackerID      int      `json:"tracker_id,omitempty"`
	StatusID       int      `json:"status_id,omitempty"`
	PriorityID     int      `json:"priority_id,omitempty"`
	AssignedToID   int      `json:"assigned_to_id,omitempty"`
	FixedVersionID int      `json:"fixed_version_id,omitempty"`
	Subject        string   `json:"subject,omitempty"`
	Description    string   `json:"description,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	Uploads        []Upload `json:"uploads,omitempty"`
}

// Upload references a previously uploaded attachment by token.
type Upload struct {
	Token       string `json:"token"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// RelationPayload creates a relation from one issue to another.
type RelationPayload struct {
	IssueToID    int    `json:"issue_to_id"`
	RelationType string `json:"relation_type"`
}

// ErrorResponse is the tracker's structured error payload.
type ErrorResponse struct {
	Errors []string `json:"errors"`
}

// Response envelopes. Single entities arrive wrapped in a keyed object;
// collections additionally carry the offset/limit pagination fields.

type issueEnvelope struct {
	Issue Issue `json:"issue"`
}

type projectEnvelope struct {
	Project Project `json:"project"`
}

type userEnvelope struct {
	User User `json:"user"`
}

type uploadEnvelope struct {
	Upload struct {
		Token string `json:"token"`
	} `json:"upload"`
}

type issuesPage struct {
	Issues     []Issue `json:"issues"`
	TotalCount int     `json:"total_count"`
	Offset     int     `json:"offset"`
	Limit      int     `json:"limit"`
}

type projectsPage struct {
	Projects   []Project `json:"projects"`
	TotalCount int       `json:"total_count"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
}

type membershipsPage struct {
	Memberships []Membership `json:"memberships"`
	TotalCount  int          `json:"total_count"`
	Offset      int          `json:"offset"`
	Limit       int          `json:"limit"`
}

type versionsPage struct {
	Versions []Version `json:"versions"`
	// The versions endpoint is not paginated but reports a count.
	TotalCount int `json:"total_count"`
}

type trackersPage struct {
	Trackers []Tracker `json:"trackers"`
}

type issueStatusesPage struct {
	IssueStatuses []IssueStatus `json:"issue_statuses"`
}
