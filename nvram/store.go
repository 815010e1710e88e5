package nvram

import (
	"crypto/rand"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/cloudlink/log2"
)

// ErrFault means record is still invalid after reset.
var ErrFault = errors.New("nvram fault")

// KeyPolicy decides what happens when stored project key differs from configured.
type KeyPolicy uint8

const (
	// KeyReclaim treats record as invalid, reset generates new secret and device must be claimed again.
	KeyReclaim KeyPolicy = iota
	// KeyAdopt rewrites project key and keeps secret and claimed flag.
	KeyAdopt
)

func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch s {
	case "", "reclaim":
		return KeyReclaim, nil
	case "adopt":
		return KeyAdopt, nil
	}
	return KeyReclaim, errors.NotValidf("key_change=%s", s)
}

func (p KeyPolicy) String() string {
	if p == KeyAdopt {
		return "adopt"
	}
	return "reclaim"
}

type StoreOptions struct {
	Storage   Storage
	Offset    int64
	Entropy   io.Reader // default crypto/rand
	KeyPolicy KeyPolicy
	Log       *log2.Log
}

// Store owns identity record. Not safe for concurrent use.
type Store struct {
	log     *log2.Log
	storage Storage
	offset  int64
	entropy io.Reader
	policy  KeyPolicy
	rec     Record
}

func NewStore(opt StoreOptions) *Store {
	if opt.Storage == nil {
		panic("code error nvram.NewStore Storage=nil")
	}
	if opt.Entropy == nil {
		opt.Entropy = rand.Reader
	}
	return &Store{
		log:     opt.Log,
		storage: opt.Storage,
		offset:  opt.Offset,
		entropy: opt.Entropy,
		policy:  opt.KeyPolicy,
	}
}

// Record returns copy of last loaded or written record.
func (self *Store) Record() Record { return self.rec }

// Load reads and validates stored record against current project key and hardware id.
// Validation failures satisfy errors.IsNotValid.
func (self *Store) Load(key string, hwid [HardwareSize]byte) error {
	if len(key) != KeySize {
		return errors.NotValidf("project key length=%d", len(key))
	}
	var b [RecordSize]byte
	if _, err := self.storage.ReadAt(b[:], self.offset); err != nil {
		return errors.Annotate(err, "nvram read")
	}
	var r Record
	if err := r.UnmarshalBinary(b[:]); err != nil {
		return err
	}
	if r.HardwareID != hwid {
		return errors.NotValidf("nvram hardware id changed stored=%x current=%x", r.HardwareID, hwid)
	}
	if r.Key() != key {
		if self.policy == KeyReclaim {
			return errors.NotValidf("nvram project key changed")
		}
		self.log.Infof("nvram project key changed, adopt")
		copy(r.ProjectKey[:], key)
		return self.write(r)
	}
	self.rec = r
	return nil
}

// Reset replaces record with fresh secret, unclaimed, and persists it.
func (self *Store) Reset(key string, hwid [HardwareSize]byte) error {
	r := Record{
		Version:    RecordVersion,
		Size:       RecordSize,
		HardwareID: hwid,
	}
	if _, err := io.ReadFull(self.entropy, r.Secret[:]); err != nil {
		return errors.Annotate(err, "nvram secret entropy")
	}
	if len(key) == KeySize {
		copy(r.ProjectKey[:], key)
	}
	return self.write(r)
}

// LoadOrReset tries Load, on failure performs exactly one Reset and Load again.
// Second failure is ErrFault.
func (self *Store) LoadOrReset(key string, hwid [HardwareSize]byte) error {
	err := self.Load(key, hwid)
	if err == nil {
		return nil
	}
	self.log.Infof("nvram invalid, reset err=%v", err)
	if err = self.Reset(key, hwid); err != nil {
		self.log.Errorf("nvram reset err=%v", err)
	}
	if err = self.Load(key, hwid); err != nil {
		return errors.Wrap(err, ErrFault)
	}
	return nil
}

// MarkClaimed writes storage only on unclaimed->claimed transition.
func (self *Store) MarkClaimed() error {
	if self.rec.Claimed {
		return nil
	}
	r := self.rec
	r.Claimed = true
	return self.write(r)
}

// Persist recomputes checksum and writes whole record.
func (self *Store) Persist() error { return self.write(self.rec) }

// write replaces current record only after storage accepted it.
func (self *Store) write(r Record) error {
	r.Checksum = r.Sum()
	b, _ := r.MarshalBinary()
	if _, err := self.storage.WriteAt(b, self.offset); err != nil {
		return errors.Annotate(err, "nvram write")
	}
	self.rec = r
	return nil
}
