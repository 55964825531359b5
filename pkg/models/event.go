package models

import "time"

// EventTypeCameraCapture is the only event type emitted by simulated cameras.
const EventTypeCameraCapture = "camera_capture"

// Event is the message value published to the device events topic, keyed by DeviceID.
type Event struct {
	DeviceID         string           `json:"deviceId"`
	Timestamp        string           `json:"timestamp"`
	Value            float64          `json:"value"`
	EventType        string           `json:"eventType"`
	Image            ImagePayload     `json:"image"`
	DeviceTextCrop   TextCrop         `json:"device_text_crop"`
	BackgroundColors BackgroundColors `json:"background_colors"`
	Metadata         Metadata         `json:"metadata"`
}

// ImagePayload carries the encoded frame and where it was stored, if anywhere.
type ImagePayload struct {
	Base64     string      `json:"base64"`
	Position   string      `json:"position"`
	Dimensions Dimensions  `json:"dimensions"`
	Format     string      `json:"format"`
	Size       int         `json:"size"`
	Saved      *SavedImage `json:"saved"`
}

// Dimensions of a generated frame in pixels
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SavedImage describes the on-disk copy of a frame
type SavedImage struct {
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
	DiskSize int64  `json:"diskSize"`
}

// TextCrop is the region around the device label, padded and clamped to the frame.
type TextCrop struct {
	Left     int    `json:"left"`
	Top      int    `json:"top"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Position string `json:"position"`
}

// NamedColor is a palette entry
type NamedColor struct {
	Hex  string `json:"hex"`
	Name string `json:"name"`
}

// BackgroundColors are the three gradient stops of a frame
type BackgroundColors struct {
	Primary   NamedColor `json:"primary"`
	Secondary NamedColor `json:"secondary"`
	Accent    NamedColor `json:"accent"`
}

// Recording modes reported in event metadata
const (
	RecordingContinuous     = "continuous"
	RecordingMotionDetected = "motion_detected"
)

// Metadata holds the synthetic sensor readings attached to an event
type Metadata struct {
	Location      string  `json:"location"`
	Battery       int     `json:"battery"`
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	CameraStatus  string  `json:"cameraStatus"`
	RecordingMode string  `json:"recordingMode"`
}

// StorageRecord describes an image written by the persistence service
type StorageRecord struct {
	Filename string    `json:"filename"`
	Filepath string    `json:"filepath"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modTime"`
}
