package enums

// MemberStatus is the membership status reported by the messaging platform
// for a user in a channel.
type MemberStatus string

const (
	MemberStatusCreator       MemberStatus = "creator"
	MemberStatusAdministrator MemberStatus = "administrator"
	MemberStatusMember        MemberStatus = "member"
	MemberStatusRestricted    MemberStatus = "restricted"
	MemberStatusLeft          MemberStatus = "left"
	MemberStatusKicked        MemberStatus = "kicked"
	// MemberStatusUnknown is recorded when the status could not be fetched.
	MemberStatusUnknown MemberStatus = "unknown"
)

// Satisfies reports whether the status counts as a subscription.
func (s MemberStatus) Satisfies() bool {
	switch s {
	case MemberStatusCreator, MemberStatusAdministrator, MemberStatusMember:
		return true
	default:
		return false
	}
}
