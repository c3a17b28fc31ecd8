package catalog

import "fmt"

// Virtualization is the AMI virtualization type an instance class boots
type Virtualization string

const (
	VirtualizationHVM Virtualization = "hvm"
	VirtualizationPVM Virtualization = "pvm"
)

// Catalog is the parsed instance catalog file
type Catalog struct {
	AMIs      map[Virtualization]string `yaml:"amis" validate:"required,dive,keys,oneof=hvm pvm,endkeys,required"`
	Instances []InstanceSpec            `yaml:"instances" validate:"required,min=1,dive"`
}

// InstanceSpec describes the resources and price of one instance class
type InstanceSpec struct {
	Name           string         `yaml:"name" json:"name" validate:"required"`
	VCPU           int            `yaml:"vcpu" json:"vcpu" validate:"required,gt=0"`
	MemoryGiB      float64        `yaml:"memoryGiB" json:"memory_gib" validate:"required,gt=0"`
	ListPrice      float64        `yaml:"listPrice" json:"list_price" validate:"required,gt=0"`
	Virtualization Virtualization `yaml:"virtualization" json:"virtualization" validate:"required,oneof=hvm pvm"`
	EphemeralDisks int            `yaml:"ephemeralDisks" json:"ephemeral_disks" validate:"min=0,max=24"`
	MapEphemeral   bool           `yaml:"mapEphemeral" json:"map_ephemeral"`
}

// BlockDevice maps an ephemeral instance store volume to a device name
type BlockDevice struct {
	DeviceName  string
	VirtualName string
}

// MemoryMiB returns the instance memory in MiB, truncated
func (s *InstanceSpec) MemoryMiB() int {
	return int(s.MemoryGiB * 1024)
}

// BlockDevices returns the ephemeral mappings to attach at launch, starting at /dev/sdb.
// Classes that do not map their instance store get none.
func (s *InstanceSpec) BlockDevices() []BlockDevice {
	if !s.MapEphemeral {
		return nil
	}

	devices := make([]BlockDevice, 0, s.EphemeralDisks)
	for i := 0; i < s.EphemeralDisks; i++ {
		devices = append(devices, BlockDevice{
			DeviceName:  fmt.Sprintf("/dev/sd%c", 'b'+i),
			VirtualName: fmt.Sprintf("ephemeral%d", i),
		})
	}
	return devices
}
