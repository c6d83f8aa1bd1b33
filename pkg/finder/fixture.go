package finder

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/rescp17/lanServiceFinder/pkg/discovery"
)

// FixturePort is the port announced fixtures claim when none is given.
const FixturePort = 8080

// FixtureService describes a throwaway instance of serviceType named
// "<hostname>-<8 hex digits>", for checking that discovery works end to end.
func FixtureService(serviceType string, port int) (discovery.ServiceInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return discovery.ServiceInfo{}, fmt.Errorf("could not get hostname: %w", err)
	}
	if port <= 0 {
		port = FixturePort
	}
	serviceUUID := uuid.New().String()

	return discovery.ServiceInfo{
		Name:   fmt.Sprintf("%s-%s", hostname, serviceUUID[:8]),
		Type:   serviceType,
		Domain: discovery.DefaultDomain,
		Port:   port,
		Text:   map[string]string{"id": serviceUUID},
	}, nil
}
