package domain

// State is the snapshot returned to the client by one sync call.
type State struct {
	Person              *Person       `json:"person"`
	Session             *Session      `json:"session"`
	Surveys             []Survey      `json:"surveys"`
	NoCodeActionClasses []ActionClass `json:"noCodeActionClasses"`
	Product             *Product      `json:"product"`
}
