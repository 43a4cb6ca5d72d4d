// guard.go -- Ownership checks for fic and chapter mutation.
package auth

import "github.com/wenclerfic/wenclerfic/internal/store"

// CanMutateFic reports whether user owns fic.
func CanMutateFic(user *store.User, fic *store.Fic) bool {
	return user != nil && fic != nil && user.ID == fic.AuthorID
}

// CanMutateChapter applies the parent fic's ownership; chapters have no owner of their own.
func CanMutateChapter(user *store.User, fic *store.Fic) bool {
	return CanMutateFic(user, fic)
}

// AuthorizeFic returns ErrUnauthenticated when nobody is logged in and ErrForbidden
// when the caller does not own fic.
func AuthorizeFic(user *store.User, fic *store.Fic) error {
	return authorize(user, fic, CanMutateFic)
}

// AuthorizeChapter is AuthorizeFic for creating, editing or deleting fic's chapters.
func AuthorizeChapter(user *store.User, fic *store.Fic) error {
	return authorize(user, fic, CanMutateChapter)
}

func authorize(user *store.User, fic *store.Fic, can func(*store.User, *store.Fic) bool) error {
	if user == nil {
		return NewError(ErrUnauthenticated, "authentication required")
	}
	if !can(user, fic) {
		return NewError(ErrForbidden, "only the author can modify this fic")
	}
	return nil
}
