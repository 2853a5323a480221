package audio

// Device describes a capture device known to an audio backend.
type Device struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}
