package escrow

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

// AdminCap is a bearer credential for the hub's administrative surface: fee
// configuration, fee withdrawal and version migration. Possession of the
// handle is both necessary and sufficient; the capability is not tied to an
// identity and may be handed off. The id field is unexported so no package
// outside this one can forge a capability — only Bootstrap mints one, exactly
// once per deployment.
type AdminCap struct {
	id [32]byte
}

// ID returns the capability identifier registered with the hub.
func (c *AdminCap) ID() [32]byte {
	if c == nil {
		return [32]byte{}
	}
	return c.id
}

func mintAdminCap(admin [20]byte) *AdminCap {
	return &AdminCap{id: ethcrypto.Keccak256Hash([]byte("swapyard/admin-cap"), admin[:])}
}

// CapabilityFor re-derives the admin capability handle for the deploying
// identity. It succeeds only when the hub registered that identity's
// capability at bootstrap, so a restarted process can recover its handle
// without re-bootstrapping.
func (e *Engine) CapabilityFor(admin [20]byte) (*AdminCap, error) {
	hub, err := e.loadHub()
	if err != nil {
		return nil, err
	}
	cap := mintAdminCap(admin)
	if cap.id != hub.AdminCapID {
		return nil, ErrInvalidCapability
	}
	return cap, nil
}

func (e *Engine) checkCap(hub *Hub, cap *AdminCap) error {
	if hub == nil {
		return ErrNotBootstrapped
	}
	if cap == nil || cap.id == ([32]byte{}) || cap.id != hub.AdminCapID {
		return ErrInvalidCapability
	}
	return nil
}
