package dfxml

import (
	"encoding/xml"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"time"
)

const XmlOutputVersion = "1.0"

var DefaultMetadata = Metadata{
	Xmlns:    "http://www.forensicswiki.org/wiki/Category:Digital_Forensics_XML",
	XmlnsXsi: "http://www.w3.org/2001/XMLSchema-instance",
	XmlnsDC:  "http://purl.org/dc/elements/1.1/",
	Type:     "Partition Report",
}

// NewHeader returns a header describing a report of the given source.
func NewHeader(creator, version string, src Source) DFXMLHeader {
	return DFXMLHeader{
		XmlOutput: XmlOutputVersion,
		Metadata:  DefaultMetadata,
		Creator: Creator{
			Package:              creator,
			Version:              version,
			ExecutionEnvironment: GetExecEnv(),
		},
		Source: src,
	}
}

// DFXMLHeader represents the root element of a DFXML document.
type DFXMLHeader struct {
	XMLName   xml.Name `xml:"dfxml"`                           // Specifies the XML element name as "dfxml".
	XmlOutput string   `xml:"xmloutputversion,attr,omitempty"` // The version of the DFXML XML schema, an attribute. "omitempty" means it will be omitted if empty.
	Metadata  Metadata `xml:"metadata"`                        // Contains metadata about the DFXML document.
	Creator   Creator  `xml:"creator"`                         // Describes the software that created the DFXML.
	Source    Source   `xml:"source"`                          // Describes the source of the forensic image.
}

// Metadata contains various metadata attributes for the DFXML document.
type Metadata struct {
	Xmlns    string `xml:"xmlns,attr"`     // XML Namespace for the DFXML schema.
	XmlnsXsi string `xml:"xmlns:xsi,attr"` // XML Namespace for XML Schema Instance.
	XmlnsDC  string `xml:"xmlns:dc,attr"`  // XML Namespace for Dublin Core.
	Type     string `xml:"dc:type"`        // The type of the DFXML document, e.g., "forensic_disk_image".
}

// Creator describes the software and environment used to generate the DFXML.
type Creator struct {
	Package              string  `xml:"package"`               // The name of the software package.
	Version              string  `xml:"version"`               // The version of the software package.
	ExecutionEnvironment ExecEnv `xml:"execution_environment"` // Details about the execution environment.
}

// ExecEnv provides information about the operating system and host where the DFXML was created.
type ExecEnv struct {
	OS      string `xml:"os_sysname"` // Operating system name (e.g., "Linux", "Windows").
	Release string `xml:"os_release"` // Operating system release version.
	Version string `xml:"os_version"` // Operating system kernel version.
	Host    string `xml:"host"`       // Hostname of the machine.
	Arch    string `xml:"arch"`       // Architecture of the machine (e.g., "x86_64").
	UID     int    `xml:"uid"`        // User ID under which the process ran.
	Start   string `xml:"start_time"` // Start time of the DFXML generation.
}

// Source describes the device the partition table was read from.
type Source struct {
	ImageFilename  string `xml:"image_filename"`            // The device or image file name.
	SectorSize     int    `xml:"sectorsize"`                // The size of a sector in bytes.
	ImageSize      uint64 `xml:"image_size"`                // The total size of the device in bytes.
	PartitionTable string `xml:"partition_table,omitempty"` // Partition table format, e.g. "gpt".
	DiskUUID       string `xml:"disk_uuid,omitempty"`       // Disk GUID or DOS disk signature.
}

// PartitionObject describes a single partition of the source device.
type PartitionObject struct {
	XMLName  xml.Name `xml:"partition"`
	Index    int      `xml:"partition_index"`
	Name     string   `xml:"name,omitempty"`
	PartUUID string   `xml:"guid,omitempty"`
	Type     string   `xml:"ptype_str"`
	Flags    string   `xml:"flags,omitempty"`
	ByteRuns ByteRuns `xml:"byte_runs"`
}

// ByteRuns is a collection of ByteRun entries.
type ByteRuns struct {
	Runs []ByteRun `xml:"byte_run"`
}

// ByteRun describes a contiguous extent of the partition on the device.
type ByteRun struct {
	Offset    uint64 `xml:"offset,attr"`     // Logical offset within the partition.
	ImgOffset uint64 `xml:"img_offset,attr"` // Physical offset within the device.
	Length    uint64 `xml:"len,attr"`
}

// Size is the sum of the lengths of all runs.
func (p *PartitionObject) Size() uint64 {
	var size uint64
	for _, r := range p.ByteRuns.Runs {
		size += r.Length
	}
	return size
}

// GetExecEnv retrieves runtime information to populate the ExecEnv struct.
func GetExecEnv() ExecEnv {
	release, version := hostRelease()
	host, err := os.Hostname()
	if err != nil {
		host = "unknown_host" // Fallback if hostname can't be determined
	}

	arch := runtime.GOARCH

	uid := 0
	currentUser, err := user.Current()
	if err == nil {
		if uidInt, parseErr := strconv.Atoi(currentUser.Uid); parseErr == nil {
			uid = uidInt
		}
	}

	startTime := time.Now().UTC().Format(time.RFC3339)

	return ExecEnv{
		OS:      runtime.GOOS,
		Release: release,
		Version: version,
		Host:    host,
		Arch:    arch,
		UID:     uid,
		Start:   startTime,
	}
}
