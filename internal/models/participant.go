package models

// RegistrationCategory is the closed set of registration subtypes. Badge
// rendering and group derivation switch on this discriminant.
type RegistrationCategory string

const (
	CategoryAttendee   RegistrationCategory = "attendee"
	CategoryMedia      RegistrationCategory = "media"
	CategoryExhibitor  RegistrationCategory = "exhibitor"
	CategoryTeamMember RegistrationCategory = "team_member"
)

// Participant is the slice of a registration record the mail engine needs
// for badge-QR delivery.
type Participant struct {
	UniqueID   string               `json:"unique_id"`
	FullName   string               `json:"full_name"`
	Email      string               `json:"email"`
	Category   RegistrationCategory `json:"category"`
	QRCodePath string               `json:"qrcode_path"`
}
