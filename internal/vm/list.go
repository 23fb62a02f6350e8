package vm

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"go.uber.org/zap"

	hvlibvirt "github.com/jbweber/hearth/internal/libvirt"
)

// DomainInfo represents what the hypervisor reports about one domain.
type DomainInfo struct {
	Name     string      `json:"name" yaml:"name"`
	UUID     string      `json:"uuid" yaml:"uuid"`
	State    DomainState `json:"state" yaml:"state"`
	CPUs     uint16      `json:"cpus" yaml:"cpus"`
	MemoryKB uint64      `json:"memory_kb" yaml:"memory_kb"`
}

// ListDomains lists every domain on the host, running and stopped,
// including ones hearth does not manage.
func (s *Service) ListDomains(ctx context.Context) ([]DomainInfo, error) {
	var infos []DomainInfo
	err := s.do(ctx, func(lv libvirtClient) error {
		var err error
		infos, err = listDomains(lv, s.log)
		return err
	})
	return infos, err
}

func listDomains(lv libvirtClient, log *zap.Logger) ([]DomainInfo, error) {
	// NeedResults: 1 populates the slice; flags 0 means active and inactive
	domains, _, err := lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, hvlibvirt.Wrap(err, "failed to list domains")
	}

	infos := make([]DomainInfo, 0, len(domains))
	for _, domain := range domains {
		info, err := getDomainInfo(lv, domain)
		if err != nil {
			log.Warn("failed to get domain info", zap.String("domain", domain.Name), zap.Error(err))
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func getDomainInfo(lv libvirtClient, domain libvirt.Domain) (DomainInfo, error) {
	state, _, memory, nrVirtCPU, _, err := lv.DomainGetInfo(domain)
	if err != nil {
		return DomainInfo{}, fmt.Errorf("failed to get domain info: %w", err)
	}
	return DomainInfo{
		Name:     domain.Name,
		UUID:     hvlibvirt.DomainUUID(domain),
		State:    DomainState(state),
		CPUs:     nrVirtCPU,
		MemoryKB: memory,
	}, nil
}
