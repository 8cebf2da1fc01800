package perms

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldgate/fieldgate/pkg/model"
)

// Action is one atomic right
type Action string

const (
	ActionRead   Action = "r"
	ActionWrite  Action = "w"
	ActionCreate Action = "c"
	ActionDelete Action = "d"
)

// Verb returns the action's long name for error messages
func (a Action) Verb() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionCreate:
		return "create"
	case ActionDelete:
		return "delete"
	default:
		return string(a)
	}
}

// ParseActions expands an action-letter string such as "rw" into actions.
// Letters are case-insensitive and deduplicated; an empty or unknown letter
// string is an error.
func ParseActions(s string) ([]Action, error) {
	if s == "" {
		return nil, errors.New("empty action string")
	}
	var out []Action
	seen := make(map[Action]bool, 4)
	for _, c := range strings.ToLower(s) {
		a := Action(c)
		switch a {
		case ActionRead, ActionWrite, ActionCreate, ActionDelete:
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		default:
			return nil, fmt.Errorf("unknown action %q in %q", string(c), s)
		}
	}
	return out, nil
}

// SubjectKind distinguishes user and group subjects
type SubjectKind string

const (
	KindUser  SubjectKind = "user"
	KindGroup SubjectKind = "group"
)

// Subject is a user or group being checked for permission
type Subject struct {
	Kind   SubjectKind
	UserID int64
	Group  string

	// Superuser short-circuits every check. Meaningful for users only and
	// resolved by the authentication layer, not stored with grants.
	Superuser bool
}

// User returns a user subject
func User(id int64) Subject {
	return Subject{Kind: KindUser, UserID: id}
}

// Superuser returns a user subject with the superuser shortcut
func Superuser(id int64) Subject {
	return Subject{Kind: KindUser, UserID: id, Superuser: true}
}

// Group returns a group subject
func Group(name string) Subject {
	return Subject{Kind: KindGroup, Group: name}
}

// Equal compares subject identity, ignoring the superuser flag
func (s Subject) Equal(o Subject) bool {
	if s.Kind != o.Kind {
		return false
	}
	if s.Kind == KindGroup {
		return s.Group == o.Group
	}
	return s.UserID == o.UserID
}

// String identifies the subject for logs
func (s Subject) String() string {
	if s.Kind == KindGroup {
		return "group " + s.Group
	}
	return fmt.Sprintf("user %d", s.UserID)
}

// Reserved group names. The "anyone" group implicitly includes every caller
// during set filtering; "logged_in" is a protected seed group for
// authenticated callers. Both survive permission clears.
const (
	AnyoneGroupName   = "anyone"
	LoggedInGroupName = "logged_in"
)

// DefaultGroups holds the reserved group subjects. It is constructed once at
// startup and passed to the resolver explicitly instead of living in a
// lazily-materialized global.
type DefaultGroups struct {
	Anyone   Subject
	LoggedIn Subject
}

// StandardGroups returns the conventional default group configuration
func StandardGroups() DefaultGroups {
	return DefaultGroups{
		Anyone:   Group(AnyoneGroupName),
		LoggedIn: Group(LoggedInGroupName),
	}
}

// Grant is one durable permission fact
type Grant struct {
	ID        int64
	Subject   Subject
	Model     string
	Action    Action
	ObjectPK  *int64 // nil for model scope
	Field     *string
	CreatedAt time.Time
}

// Target identifies what a permission check or grant applies to: a whole
// model, one object, or a set of objects of one model.
type Target struct {
	model  string
	pks    []int64
	object bool
}

// OnModel targets every current and future object of a model
func OnModel(name string) Target {
	return Target{model: name}
}

// OnObject targets one object
func OnObject(obj *model.Object) Target {
	return Target{model: obj.Model.Name, pks: []int64{obj.PK}, object: true}
}

// OnObjects targets a set of objects of one model by primary key
func OnObjects(modelName string, pks ...int64) Target {
	return Target{model: modelName, pks: pks, object: true}
}

// ErrInvalidTarget is returned when a target is neither a model nor an object
var ErrInvalidTarget = errors.New("permission target is neither a model nor an object")

// UnknownFieldError reports a field qualifier that does not exist on a model
type UnknownFieldError struct {
	Model string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("field %q does not exist on model %q", e.Field, e.Model)
}
