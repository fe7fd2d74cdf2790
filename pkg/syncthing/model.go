package syncthing

import "encoding/json"

//MinConfigVersion is the oldest configuration layout the client knows how to patch
const MinConfigVersion = 19

//Status of the local daemon
type Status struct {
	ID              string                 `json:"ID"`
	BaseURL         string                 `json:"baseURL"`
	Connected       bool                   `json:"connected"`
	ConnectionRetry int                    `json:"connectionRetry"`
	Tilde           string                 `json:"tilde"`
	RawStatus       map[string]interface{} `json:"rawStatus"`
}

//Project is a request to share a local folder with a builder device
type Project struct {
	ID                string `json:"id"`
	Path              string `json:"path"`
	ServerSyncThingID string `json:"serverSyncThingID"`
	Label             string `json:"label,omitempty"`
}

//Configuration is the daemon configuration. Keys not modelled here are kept in
//Extra and written back untouched.
type Configuration struct {
	Version int                        `json:"version"`
	Folders []FolderConfiguration      `json:"folders"`
	Devices []DeviceConfiguration      `json:"devices"`
	Extra   map[string]json.RawMessage `json:"-"`
}

//FolderConfiguration is one shared folder
type FolderConfiguration struct {
	ID            string                      `json:"id"`
	Label         string                      `json:"label"`
	Path          string                      `json:"path"`
	Devices       []FolderDeviceConfiguration `json:"devices"`
	AutoNormalize bool                        `json:"autoNormalize"`
	Extra         map[string]json.RawMessage  `json:"-"`
}

//FolderDeviceConfiguration links a folder to a device
type FolderDeviceConfiguration struct {
	DeviceID     string `json:"deviceID"`
	IntroducedBy string `json:"introducedBy"`
}

//DeviceConfiguration is one remote device
type DeviceConfiguration struct {
	DeviceID  string                     `json:"deviceID"`
	Name      string                     `json:"name"`
	Addresses []string                   `json:"addresses"`
	Extra     map[string]json.RawMessage `json:"-"`
}

type (
	configuration       Configuration
	folderConfiguration FolderConfiguration
	deviceConfiguration DeviceConfiguration
)

func (c *Configuration) UnmarshalJSON(data []byte) error {
	return decodeWithExtra(data, (*configuration)(c), &c.Extra)
}

func (c Configuration) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(configuration(c), c.Extra)
}

func (f *FolderConfiguration) UnmarshalJSON(data []byte) error {
	return decodeWithExtra(data, (*folderConfiguration)(f), &f.Extra)
}

func (f FolderConfiguration) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(folderConfiguration(f), f.Extra)
}

func (d *DeviceConfiguration) UnmarshalJSON(data []byte) error {
	return decodeWithExtra(data, (*deviceConfiguration)(d), &d.Extra)
}

func (d DeviceConfiguration) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(deviceConfiguration(d), d.Extra)
}

//decodeWithExtra fills known and keeps the keys it does not declare in extra
func decodeWithExtra(data []byte, known interface{}, extra *map[string]json.RawMessage) error {
	if err := json.Unmarshal(data, known); err != nil {
		return err
	}
	all := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	declared, err := keysOf(known)
	if err != nil {
		return err
	}
	for k := range declared {
		delete(all, k)
	}
	if len(all) == 0 {
		all = nil
	}
	*extra = all
	return nil
}

func encodeWithExtra(known interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	out, err := keysOf(known)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func keysOf(v interface{}) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	return m, json.Unmarshal(data, &m)
}
