package rbac

const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

const (
	PermSyncRun  = "sync:run"
	PermSyncView = "sync:view"
)

// Default policy. Viewers can read run history and synced rows but cannot
// start a pass.
var RolePermissions = map[string][]string{
	RoleViewer: {
		PermSyncView,
	},
	RoleAdmin: {
		"*", // everything
	},
}
