package mqtt

import "fmt"

// TopicPrefixSystem is the base for edgebus's own status topics.
const TopicPrefixSystem = "edgebus/system"

// Topics provides builders for edgebus MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// SystemStatus returns the instance status topic.
// Online/offline payloads and the LWT are published here, retained.
//
// Example: edgebus/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemHealth returns the health report topic for a specific instance.
//
// Example: edgebus/system/health/edgebus-001
func (Topics) SystemHealth(instanceID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixSystem, instanceID)
}
