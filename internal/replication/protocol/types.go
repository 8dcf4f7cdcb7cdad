package protocol

import "fmt"

// MsgType is the one byte tag leading every encoded message.
type MsgType byte

// Message type tags. Kinds whose layout changed keep their legacy tag
// next to the modern one.
const (
	MsgTypeModifyV1            MsgType = 1
	MsgTypeAddV1               MsgType = 2
	MsgTypeDeleteV1            MsgType = 3
	MsgTypeModifyDNV1          MsgType = 4
	MsgTypeAck                 MsgType = 5
	MsgTypeServerStartV1       MsgType = 6
	MsgTypeReplServerStartV1   MsgType = 7
	MsgTypeWindow              MsgType = 8
	MsgTypeHeartbeat           MsgType = 9
	MsgTypeInitializeRequest   MsgType = 10
	MsgTypeInitializeTarget    MsgType = 11
	MsgTypeEntry               MsgType = 12
	MsgTypeDone                MsgType = 13
	MsgTypeError               MsgType = 14
	MsgTypeWindowProbe         MsgType = 15
	MsgTypeResetGenerationID   MsgType = 17
	MsgTypeMonitorRequest      MsgType = 18
	MsgTypeMonitor             MsgType = 19
	MsgTypeServerStart         MsgType = 20
	MsgTypeReplServerStart     MsgType = 21
	MsgTypeModify              MsgType = 22
	MsgTypeAdd                 MsgType = 23
	MsgTypeDelete              MsgType = 24
	MsgTypeModifyDN            MsgType = 25
	MsgTypeTopology            MsgType = 26
	MsgTypeStartSession        MsgType = 27
	MsgTypeChangeStatus        MsgType = 28
	MsgTypeChangeTimeHeartbeat MsgType = 33
	MsgTypeReplServerStartDS   MsgType = 34
	MsgTypeStop                MsgType = 35
	MsgTypeReplicaOffline      MsgType = 37
)

var msgTypeNames = map[MsgType]string{
	MsgTypeModifyV1:            "ModifyV1",
	MsgTypeAddV1:               "AddV1",
	MsgTypeDeleteV1:            "DeleteV1",
	MsgTypeModifyDNV1:          "ModifyDNV1",
	MsgTypeAck:                 "Ack",
	MsgTypeServerStartV1:       "ServerStartV1",
	MsgTypeReplServerStartV1:   "ReplServerStartV1",
	MsgTypeWindow:              "Window",
	MsgTypeInitializeRequest:   "InitializeRequest",
	MsgTypeInitializeTarget:    "InitializeTarget",
	MsgTypeEntry:               "Entry",
	MsgTypeDone:                "Done",
	MsgTypeError:               "Error",
	MsgTypeWindowProbe:         "WindowProbe",
	MsgTypeResetGenerationID:   "ResetGenerationID",
	MsgTypeMonitorRequest:      "MonitorRequest",
	MsgTypeMonitor:             "Monitor",
	MsgTypeHeartbeat:           "Heartbeat",
	MsgTypeServerStart:         "ServerStart",
	MsgTypeReplServerStart:     "ReplServerStart",
	MsgTypeModify:              "Modify",
	MsgTypeAdd:                 "Add",
	MsgTypeDelete:              "Delete",
	MsgTypeModifyDN:            "ModifyDN",
	MsgTypeTopology:            "Topology",
	MsgTypeStartSession:        "StartSession",
	MsgTypeChangeStatus:        "ChangeStatus",
	MsgTypeReplServerStartDS:   "ReplServerStartDS",
	MsgTypeStop:                "Stop",
	MsgTypeChangeTimeHeartbeat: "ChangeTimeHeartbeat",
	MsgTypeReplicaOffline:      "ReplicaOffline",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MsgType(%d)", byte(t))
}

// ServerStatus is the replication status of a directory server.
type ServerStatus byte

// Server statuses.
const (
	StatusInvalid    ServerStatus = 0
	StatusNormal     ServerStatus = 1
	StatusDegraded   ServerStatus = 2
	StatusFullUpdate ServerStatus = 3
	StatusBadGenID   ServerStatus = 4
)

// Valid reports whether s is one of the defined statuses.
func (s ServerStatus) Valid() bool {
	return s <= StatusBadGenID
}

func (s ServerStatus) String() string {
	switch s {
	case StatusInvalid:
		return "invalid"
	case StatusNormal:
		return "normal"
	case StatusDegraded:
		return "degraded"
	case StatusFullUpdate:
		return "full-update"
	case StatusBadGenID:
		return "bad-generation-id"
	default:
		return fmt.Sprintf("ServerStatus(%d)", byte(s))
	}
}

// AssuredMode selects what an assured update waits for.
type AssuredMode byte

// Assured replication modes.
const (
	// AssuredSafeRead waits until the change is replayed on the other
	// directory servers.
	AssuredSafeRead AssuredMode = 1
	// AssuredSafeData waits until SafeDataLevel servers hold the change.
	AssuredSafeData AssuredMode = 2
)

// Valid reports whether m is a defined mode.
func (m AssuredMode) Valid() bool {
	return m == AssuredSafeRead || m == AssuredSafeData
}

func (m AssuredMode) String() string {
	switch m {
	case AssuredSafeRead:
		return "safe-read"
	case AssuredSafeData:
		return "safe-data"
	default:
		return fmt.Sprintf("AssuredMode(%d)", byte(m))
	}
}

// Defaults for the assured replication fields of a new message.
const (
	DefaultAssuredMode   = AssuredSafeData
	DefaultSafeDataLevel = 1
)

// ParseAssuredMode parses "safe-read" or "safe-data".
func ParseAssuredMode(s string) (AssuredMode, error) {
	switch s {
	case "safe-read":
		return AssuredSafeRead, nil
	case "safe-data", "":
		return AssuredSafeData, nil
	default:
		return 0, fmt.Errorf("protocol: unknown assured mode %q", s)
	}
}
