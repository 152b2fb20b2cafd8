package model

// Invocation is the per-call argument set handed to a command.
type Invocation struct {
	ID               string `json:"id,omitempty"`
	FilePath         string `json:"file"`
	ResponseVariable string `json:"response_variable,omitempty"`
}

// WantsResponse reports whether the caller asked for the response value.
func (i Invocation) WantsResponse() bool {
	return i.ResponseVariable != ""
}

type ResultStatus string

const (
	ResultStatusOK    ResultStatus = "ok"
	ResultStatusError ResultStatus = "error"
	ResultStatusFail  ResultStatus = "failed"
)

// LastResult is the record kept per command name. It is always written as a whole.
type LastResult struct {
	Command         string       `yaml:"command" json:"command"`
	InvocationID    string       `yaml:"invocation_id,omitempty" json:"invocation_id,omitempty"`
	Status          ResultStatus `yaml:"status" json:"status"`
	OK              bool         `yaml:"ok" json:"ok"`
	StatusCode      *int         `yaml:"status_code" json:"status_code"`
	Content         string       `yaml:"content" json:"content"`
	ContentEncoding string       `yaml:"content_encoding,omitempty" json:"content_encoding,omitempty"`
	ErrorKind       string       `yaml:"error_kind,omitempty" json:"error_kind,omitempty"`
	URL             string       `yaml:"url,omitempty" json:"url,omitempty"`
	UpdatedAt       string       `yaml:"updated_at" json:"updated_at"`
}

// LastResultFile is the on-disk form of a LastResult.
type LastResultFile struct {
	SchemaVersion int        `yaml:"schema_version"`
	FileType      string     `yaml:"file_type"`
	Result        LastResult `yaml:"result"`
}

// ServiceResponse is the value returned to a caller that asked for a response variable.
type ServiceResponse struct {
	Status          int    `json:"status"`
	Content         string `json:"content"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	JSON            any    `json:"json,omitempty"`
}

// ServiceField describes one input field of a published service.
type ServiceField struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Example     string `json:"example"`
}

// ServiceDescription is what a command publishes about itself.
type ServiceDescription struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Fields      map[string]ServiceField `json:"fields"`
}

// DescribeCommand builds the service description for c.
func DescribeCommand(c Command) ServiceDescription {
	return ServiceDescription{
		Name:        c.Name,
		Description: c.Description(),
		Fields: map[string]ServiceField{
			"file": {
				Name:        "Upload File Path",
				Description: "The path to the file to upload",
				Required:    true,
				Example:     "/config/www/image.jpg",
			},
		},
	}
}

// ReloadSummary reports what a reload changed.
type ReloadSummary struct {
	Commands []string `json:"commands"`
	Removed  []string `json:"removed,omitempty"`
}
