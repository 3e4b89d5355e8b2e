// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is returned when a campaign id has no row.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// OpenMailboxError wraps every transport failure raised while opening a
// bounce mailbox.
type OpenMailboxError struct {
	Mailbox string
	Err     error
}

func (e *OpenMailboxError) Error() string {
	return fmt.Sprintf("cannot open mailbox %q: %v", e.Mailbox, e.Err)
}

func (e *OpenMailboxError) Unwrap() error {
	return e.Err
}

func NewOpenMailboxError(mailbox string, err error) error {
	return &OpenMailboxError{Mailbox: mailbox, Err: err}
}

// SizeLimitExceededError halts a delivery run after the campaign has been
// suspended. Callers treat it as a control signal, not a crash.
type SizeLimitExceededError struct {
	CampaignID int
	Size       int
	Limit      int
}

func (e *SizeLimitExceededError) Error() string {
	return fmt.Sprintf("campaign %d: rendered message is %d bytes, limit is %d",
		e.CampaignID, e.Size, e.Limit)
}

// UnknownActionError means a bounce rule names an action no handler supports.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("no bounce action handler supports %q", e.Action)
}

// CampaignStateError is returned when a campaign is asked to do something
// its status does not allow.
type CampaignStateError struct {
	CampaignID int
	Status     string
}

func (e *CampaignStateError) Error() string {
	return fmt.Sprintf("campaign %d is %s", e.CampaignID, e.Status)
}
