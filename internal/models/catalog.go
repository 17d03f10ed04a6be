package models

// EditionRef identifies a course edition.
type EditionRef struct {
	CourseID  int64 `db:"course_id" json:"courseId" validate:"required,gt=0"`
	EditionID int64 `db:"edition_id" json:"editionId" validate:"required,gt=0"`
}

// Key returns the course edition lock key.
func (r EditionRef) Key() ResourceKey {
	return EditionKey(r.CourseID, r.EditionID)
}

// CourseEdition is a read-only catalog record.
type CourseEdition struct {
	CourseID      int64    `db:"course_id" json:"courseId"`
	EditionID     int64    `db:"edition_id" json:"editionId"`
	Name          string   `db:"name" json:"name"`
	RequiredUnits int      `db:"required_units" json:"requiredUnits"`
	Coordinators  []string `db:"-" json:"coordinators"`
	Groups        []int64  `db:"-" json:"groups"`
}

// Ref returns the identity of the edition.
func (e CourseEdition) Ref() EditionRef {
	return EditionRef{CourseID: e.CourseID, EditionID: e.EditionID}
}

// HasCoordinator reports whether userID coordinates the edition.
func (e CourseEdition) HasCoordinator(userID string) bool {
	for _, c := range e.Coordinators {
		if c == userID {
			return true
		}
	}
	return false
}

// InGroup reports whether the edition is taught to groupID.
func (e CourseEdition) InGroup(groupID int64) bool {
	for _, g := range e.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// EditionFilter narrows catalog listings.
type EditionFilter struct {
	CoordinatorID string
	GroupID       int64
}

// Room is a read-only catalog record.
type Room struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Capacity int    `db:"capacity" json:"capacity"`
}
