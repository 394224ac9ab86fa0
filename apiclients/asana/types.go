package asana

// types.go describes the request and response envelopes of the Asana
// REST API. Every Asana payload is wrapped in a `data` object; list
// endpoints add a `next_page` cursor.

// ProjectData is the payload for creating or updating a project.
type ProjectData struct {
	Name      string `json:"name"`
	Notes     string `json:"notes,omitempty"`
	Color     string `json:"color,omitempty"`
	Public    bool   `json:"public"`
	Workspace string `json:"workspace,omitempty"`
	Team      string `json:"team,omitempty"`
}

// projectRequest wraps ProjectData for the wire.
type projectRequest struct {
	Data ProjectData `json:"data"`
}

// Project is a created or updated project as returned by the API.
type Project struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// projectResponse is the envelope of a project create/update response.
type projectResponse struct {
	Data Project `json:"data"`
}

// SectionData is the payload for creating a section within a project.
type SectionData struct {
	Name string `json:"name"`
}

// sectionRequest wraps SectionData for the wire.
type sectionRequest struct {
	Data SectionData `json:"data"`
}

// Section is a named subdivision of a project.
type Section struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// sectionResponse is the envelope of a section create response.
type sectionResponse struct {
	Data Section `json:"data"`
}

// NextPage is Asana's pagination cursor.
type NextPage struct {
	Offset string `json:"offset"`
	Path   string `json:"path"`
	URI    string `json:"uri"`
}

// sectionsResponse is the envelope of a section list response.
type sectionsResponse struct {
	Data     []Section `json:"data"`
	NextPage *NextPage `json:"next_page"`
}

// Membership places a task within one section of one project.
type Membership struct {
	Project string `json:"project"`
	Section string `json:"section,omitempty"`
}

// TaskData is the payload for creating a task. Projects places the
// task unfiled; Memberships places it within a section instead.
type TaskData struct {
	Name        string       `json:"name"`
	Notes       string       `json:"notes,omitempty"`
	DueOn       string       `json:"due_on,omitempty"`
	Projects    []string     `json:"projects,omitempty"`
	Memberships []Membership `json:"memberships,omitempty"`
}

// taskRequest wraps TaskData for the wire.
type taskRequest struct {
	Data TaskData `json:"data"`
}

// Task is a created task as returned by the API.
type Task struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// taskResponse is the envelope of a task create response.
type taskResponse struct {
	Data Task `json:"data"`
}

// listOptions are the query options for list endpoints, encoded with
// go-querystring.
type listOptions struct {
	Limit     int    `url:"limit,omitempty"`
	Offset    string `url:"offset,omitempty"`
	OptFields string `url:"opt_fields,omitempty"`
}
