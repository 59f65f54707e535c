package auth

const (
	PermReadPost       = "read_post"
	PermCreatePost     = "create_post"
	PermEditPost       = "edit_post"
	PermDeletePost     = "delete_post"
	PermPublishPost    = "publish_post"
	PermFileReturn     = "file_tax_return"
	PermUploadDocument = "upload_document"
	PermReviewReturn   = "review_tax_return"
	PermViewUsers      = "view_users"
	PermManageUsers    = "manage_users"
	PermViewAuditLog   = "view_audit_log"
	PermManageForms    = "manage_forms"
)

const (
	RoleUser   = "USER"
	RoleAuthor = "AUTHOR"
	RoleEditor = "EDITOR"
	RoleAdmin  = "ADMIN"
)

// DefaultRole is the lowest-privilege role assigned at registration.
const DefaultRole = RoleUser

var BuiltinPermissions = []Permission{
	{Name: PermReadPost, Description: "Read published posts"},
	{Name: PermCreatePost, Description: "Create draft posts"},
	{Name: PermEditPost, Description: "Edit posts"},
	{Name: PermDeletePost, Description: "Delete posts"},
	{Name: PermPublishPost, Description: "Publish posts"},
	{Name: PermFileReturn, Description: "File own tax returns"},
	{Name: PermUploadDocument, Description: "Upload supporting documents"},
	{Name: PermReviewReturn, Description: "Review submitted tax returns"},
	{Name: PermViewUsers, Description: "View user accounts and their permissions"},
	{Name: PermManageUsers, Description: "Assign roles and grant permissions"},
	{Name: PermViewAuditLog, Description: "Read the audit log"},
	{Name: PermManageForms, Description: "Manage tax form templates"},
}

// BuiltinRoles mirrors the seed data in migrations/seeds.
var BuiltinRoles = []RoleDefinition{
	{
		Name:        RoleUser,
		Description: "Registered taxpayer",
		Permissions: []string{PermReadPost, PermFileReturn, PermUploadDocument},
	},
	{
		Name:        RoleAuthor,
		Description: "Writes blog posts",
		Permissions: []string{PermCreatePost, PermEditPost},
	},
	{
		Name:        RoleEditor,
		Description: "Edits and publishes posts",
		Permissions: []string{PermReadPost, PermCreatePost, PermEditPost, PermDeletePost, PermPublishPost},
	},
	{
		Name:        RoleAdmin,
		Description: "Administers accounts and content",
		Permissions: []string{
			PermReadPost, PermCreatePost, PermEditPost, PermDeletePost, PermPublishPost,
			PermReviewReturn, PermViewUsers, PermManageUsers, PermViewAuditLog, PermManageForms,
		},
	},
}
