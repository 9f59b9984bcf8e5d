package scanner

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/radio"
)

// AddAddressToWhitelist stores address in the driver whitelist and switches
// the radio to whitelist-only reporting. Whitelisting must be enabled first;
// otherwise, or when the driver rejects the address, the call only logs a
// warning.
func (s *Scanner) AddAddressToWhitelist(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	log := s.logger.WithField("address", address)
	if !s.whitelistEnabled || !s.driver.WhitelistAdd(address) {
		log.Warn("BLE whitelist not enabled or add failed")
		return nil
	}

	s.applyFilterPolicy(radio.WhitelistOnly)
	log.WithField("whitelist_count", s.driver.WhitelistCount()).Debug("Added address to whitelist")
	return nil
}

// RemoveAddressFromWhitelist drops address from the driver whitelist.
//
// When the whitelist becomes empty the radio goes back to accepting every
// advertiser even though whitelisting stays enabled; an empty whitelist never
// means "report nothing".
func (s *Scanner) RemoveAddressFromWhitelist(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	log := s.logger.WithField("address", address)
	if !s.whitelistEnabled || !s.driver.WhitelistRemove(address) {
		log.Warn("BLE whitelist not enabled or remove failed")
		return nil
	}

	count := s.driver.WhitelistCount()
	if count == 0 {
		s.applyFilterPolicy(radio.AcceptAll)
	} else {
		s.applyFilterPolicy(radio.WhitelistOnly)
	}
	log.WithField("whitelist_count", count).Debug("Removed address from whitelist")
	return nil
}

// EnableWhitelist turns whitelist filtering on or off and applies the
// matching filter policy right away.
func (s *Scanner) EnableWhitelist(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	s.whitelistEnabled = enable
	if enable {
		s.applyFilterPolicy(radio.WhitelistOnly)
	} else {
		s.applyFilterPolicy(radio.AcceptAll)
	}
	return nil
}

// applyFilterPolicy must be called with s.mu held.
func (s *Scanner) applyFilterPolicy(policy radio.FilterPolicy) {
	s.driver.SetFilterPolicy(policy)
	s.logger.WithFields(logrus.Fields{
		"policy":            policy.String(),
		"whitelist_enabled": s.whitelistEnabled,
	}).Debug("BLE filter policy applied")
}
