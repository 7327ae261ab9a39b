package service

import (
	"fmt"

	"github.com/noah-isme/fileshare-api/internal/models"
)

// Messages embed the sender name and file name as they were when the event
// happened; later renames do not rewrite them.

func accessRequestedMessage(sender, fileName string) string {
	return fmt.Sprintf("%s requested access to %q", sender, fileName)
}

func accessGrantedMessage(sender, fileName string, role models.ShareRole) string {
	return fmt.Sprintf("%s approved your request: you can now %s %q", sender, roleVerb(role), fileName)
}

func fileSharedMessage(sender, fileName string, role models.ShareRole) string {
	return fmt.Sprintf("%s shared %q with you (%s access)", sender, fileName, role)
}

func accessRevokedMessage(sender, fileName string) string {
	return fmt.Sprintf("%s removed your access to %q", sender, fileName)
}

func accessUpdatedMessage(sender, fileName string, role models.ShareRole) string {
	return fmt.Sprintf("%s changed your access to %q: you can now %s it", sender, fileName, roleVerb(role))
}

func roleVerb(role models.ShareRole) string {
	switch role {
	case models.ShareEdit:
		return "edit"
	case models.ShareDelete:
		return "view and delete"
	default:
		return "view"
	}
}
