package session

// Permissions is the per-member capability vector. An entry is created on
// first join and lives for the session's lifetime, surviving disconnects.
type Permissions struct {
	CanViewFiles         bool `json:"canViewFiles"`
	CanEditFiles         bool `json:"canEditFiles"`
	CanCreateFiles       bool `json:"canCreateFiles"`
	CanCreateFolders     bool `json:"canCreateFolders"`
	CanDeleteFiles       bool `json:"canDeleteFiles"`
	CanManagePermissions bool `json:"canManagePermissions"`
	CanInviteOthers      bool `json:"canInviteOthers"`
	CanExecute           bool `json:"canExecute"`
	CanChat              bool `json:"canChat"`
}

// DefaultPermissions is the vector a regular joiner receives.
func DefaultPermissions() Permissions {
	return Permissions{
		CanViewFiles:     true,
		CanEditFiles:     true,
		CanCreateFiles:   true,
		CanCreateFolders: true,
		CanDeleteFiles:   true,
		CanExecute:       true,
		CanChat:          true,
	}
}

// CreatorPermissions is the full vector the session creator receives.
func CreatorPermissions() Permissions {
	return Permissions{
		CanViewFiles:         true,
		CanEditFiles:         true,
		CanCreateFiles:       true,
		CanCreateFolders:     true,
		CanDeleteFiles:       true,
		CanManagePermissions: true,
		CanInviteOthers:      true,
		CanExecute:           true,
		CanChat:              true,
	}
}

// Access levels used by access_rights_update. Each level maps onto the
// edit/execute flags of an existing vector; other flags are untouched.
const (
	AccessLevelView = "view"
	AccessLevelEdit = "edit"
	AccessLevelFull = "full"
)

func applyAccessLevel(p Permissions, level string) (Permissions, bool) {
	switch level {
	case AccessLevelView:
		p.CanEditFiles = false
		p.CanExecute = false
	case AccessLevelEdit:
		p.CanEditFiles = true
		p.CanExecute = false
	case AccessLevelFull:
		p.CanEditFiles = true
		p.CanExecute = true
	default:
		return p, false
	}
	return p, true
}
