// Package user implements the fixed-layout user table persisted in block 0
// alongside the super block, and the login/sign-up/permission operations
// over it.
package user

import (
	"encoding/binary"
	"fmt"

	"simdisk/internal/block"
	"simdisk/internal/fserr"
	"simdisk/internal/fsconst"
)

// MaxUsers bounds the fixed-size user table to the records that fit in
// block 0 after TableOffset; root occupies slot 0.
const MaxUsers = (fsconst.BlockSize - TableOffset) / recordSize

// nameLen/passLen are the fixed field widths of one packed record.
const (
	nameLen = 16
	passLen = 16
	// id(2) + gid(2) + name(16) + pass(16)
	recordSize = 2 + 2 + nameLen + passLen
)

// TableOffset is the byte offset of the user table within block 0, past the
// end of the 44-byte super block record.
const TableOffset = 64

// RootUID/RootGID are fixed by convention: the administrator account
// created by Format.
const (
	RootUID = 0
	RootGID = 0
)

// Record is one packed entry of the user table.
type Record struct {
	UID      uint16
	GID      uint16
	Name     string
	Password string
}

func (r Record) MarshalBinary() ([]byte, error) {
	if len(r.Name) > nameLen || len(r.Password) > passLen {
		return nil, fserr.New(fserr.InvalidInput, "username or password too long")
	}
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint16(buf[0:], r.UID)
	binary.LittleEndian.PutUint16(buf[2:], r.GID)
	copy(buf[4:4+nameLen], r.Name)
	copy(buf[4+nameLen:4+nameLen+passLen], r.Password)
	return buf, nil
}

func (r *Record) UnmarshalBinary(buf []byte) error {
	if len(buf) < recordSize {
		return fmt.Errorf("user: short record: %d bytes", len(buf))
	}
	r.UID = binary.LittleEndian.Uint16(buf[0:])
	r.GID = binary.LittleEndian.Uint16(buf[2:])
	r.Name = trimZero(buf[4 : 4+nameLen])
	r.Password = trimZero(buf[4+nameLen : 4+nameLen+passLen])
	return nil
}

func (r Record) Zero() bool { return r.Name == "" }

func trimZero(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

func slotOffset(i int) int { return TableOffset + i*recordSize }

// Table manages the fixed-capacity, block-0-resident user table.
type Table struct {
	cache  *block.Cache
	maxID  uint16
}

// NewTable wraps the cache block holding the user table.
func NewTable(c *block.Cache) *Table {
	return &Table{cache: c}
}

// Format clears the user table and installs the root account.
func (t *Table) Format() error {
	for i := 0; i < MaxUsers; i++ {
		rec := Record{}
		if err := t.cache.WriteObject(rec, 0, slotOffset(i)); err != nil {
			return err
		}
	}
	root := Record{UID: RootUID, GID: RootGID, Name: "root", Password: "admin"}
	if err := t.cache.WriteObject(root, 0, slotOffset(0)); err != nil {
		return err
	}
	t.maxID = RootUID
	return nil
}

func (t *Table) readSlot(i int) (Record, error) {
	buf, err := t.cache.GetBuffer(0, slotOffset(i), slotOffset(i)+recordSize)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := r.UnmarshalBinary(buf); err != nil {
		return Record{}, err
	}
	return r, nil
}

// All returns every configured user, in slot order.
func (t *Table) All() ([]Record, error) {
	var out []Record
	for i := 0; i < MaxUsers; i++ {
		r, err := t.readSlot(i)
		if err != nil {
			return nil, err
		}
		if !r.Zero() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Load scans the table to recover maxID after mounting an existing backing
// file.
func (t *Table) Load() error {
	all, err := t.All()
	if err != nil {
		return err
	}
	max := uint16(RootUID)
	for _, r := range all {
		if r.UID > max {
			max = r.UID
		}
	}
	t.maxID = max
	return nil
}

// SignUp creates a new non-administrative account (gid 1) with the next
// available uid.
func (t *Table) SignUp(name, password string) (Record, error) {
	if _, ok, err := t.find(name); err != nil {
		return Record{}, err
	} else if ok {
		return Record{}, fserr.New(fserr.AlreadyExists, fmt.Sprintf("user %q already exists", name))
	}
	slot := -1
	for i := 0; i < MaxUsers; i++ {
		r, err := t.readSlot(i)
		if err != nil {
			return Record{}, err
		}
		if r.Zero() {
			slot = i
			break
		}
	}
	if slot < 0 {
		return Record{}, fserr.New(fserr.OutOfMemory, "user table is full")
	}
	t.maxID++
	rec := Record{UID: t.maxID, GID: 1, Name: name, Password: password}
	if err := t.cache.WriteObject(rec, 0, slotOffset(slot)); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (t *Table) find(name string) (Record, bool, error) {
	all, err := t.All()
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range all {
		if r.Name == name {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// SignIn validates a name/password pair.
func (t *Table) SignIn(name, password string) (Record, error) {
	r, ok, err := t.find(name)
	if err != nil {
		return Record{}, err
	}
	if !ok || r.Password != password {
		return Record{}, fserr.New(fserr.PermissionDenied, "invalid username or password")
	}
	return r, nil
}

// AbleToModify reports whether actor may modify a resource owned by
// target, per the original model: an actor may act on anything owned by a
// gid greater than or equal to its own (root, gid 0, can act on everyone).
func AbleToModify(actorGID, targetGID uint16) bool {
	return actorGID <= targetGID
}
