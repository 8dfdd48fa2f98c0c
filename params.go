package tornet

// params.go holds the construction-parameter plumbing: a string-valued
// parameter table with typed readers, and experiment files whose parameters
// are scoped to objects by attribute (wildcard, coordinate, or id).

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// Params is a table of string-valued construction parameters
type Params map[string]string

// RequireInt reads an integer parameter that has no default
func (p Params) RequireInt(obj int, name string) (int, error) {
	v, present := p[name]
	if !present {
		return 0, &ConfigError{Router: obj, Param: name, Reason: "required parameter is missing"}
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, &ConfigError{Router: obj, Param: name, Value: v, Reason: "not an integer"}
	}
	return n, nil
}

// Int reads an integer parameter, returning def when it is absent
func (p Params) Int(obj int, name string, def int) (int, error) {
	if _, present := p[name]; !present {
		return def, nil
	}
	return p.RequireInt(obj, name)
}

// Float reads a floating point parameter, returning def when it is absent
func (p Params) Float(obj int, name string, def float64) (float64, error) {
	v, present := p[name]
	if !present {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, &ConfigError{Router: obj, Param: name, Value: v, Reason: "not a number"}
	}
	return f, nil
}

// Bool reads a boolean parameter, returning def when it is absent
func (p Params) Bool(obj int, name string, def bool) (bool, error) {
	v, present := p[name]
	if !present {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, &ConfigError{Router: obj, Param: name, Value: v, Reason: "not a boolean"}
	}
	return b, nil
}

// String reads a string parameter, returning def when it is absent
func (p Params) String(name, def string) string {
	if v, present := p[name]; present {
		return v
	}
	return def
}

// Freq reads an SI frequency parameter such as "1GHz", returning Hz
func (p Params) Freq(obj int, name, def string) (float64, error) {
	v := p.String(name, def)
	hz, err := ParseFreq(v)
	if err != nil {
		return 0, &ConfigError{Router: obj, Param: name, Value: v, Reason: err.Error()}
	}
	return hz, nil
}

// merge returns a copy of p with the entries of q laid over it
func (p Params) merge(q Params) Params {
	rtn := make(Params, len(p)+len(q))
	for k, v := range p {
		rtn[k] = v
	}
	for k, v := range q {
		rtn[k] = v
	}
	return rtn
}

var siPrefixes = []struct {
	prefix string
	scale  float64
}{{"G", 1e9}, {"M", 1e6}, {"k", 1e3}, {"K", 1e3}, {"", 1}}

// ParseFreq converts an SI frequency such as "1GHz", "500 MHz" or "2.5e9Hz" to Hz
func ParseFreq(s string) (float64, error) {
	v := strings.TrimSpace(s)
	if !strings.HasSuffix(strings.ToLower(v), "hz") {
		return 0, fmt.Errorf("frequency %q has no Hz unit", s)
	}
	v = strings.TrimSpace(v[:len(v)-2])
	for _, si := range siPrefixes {
		if si.prefix != "" && !strings.HasSuffix(v, si.prefix) {
			continue
		}
		num, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, si.prefix)), 64)
		if err != nil {
			return 0, fmt.Errorf("frequency %q: %w", s, err)
		}
		if !(num > 0) {
			return 0, fmt.Errorf("frequency %q is not positive", s)
		}
		return num * si.scale, nil
	}
	return 0, fmt.Errorf("frequency %q not understood", s)
}

// AttrbStruct holds the name of an attribute and a value for it
type AttrbStruct struct {
	AttrbName  string `json:"attrbname" yaml:"attrbname"`
	AttrbValue string `json:"attrbvalue" yaml:"attrbvalue"`
}

// ExpParameter describes one configuration input. It applies to every object
// of type ParamObj that matches all of its Attributes.
type ExpParameter struct {
	// Network, Router, or Host
	ParamObj string `json:"paramObj" yaml:"paramObj"`

	Attributes []AttrbStruct `json:"attributes" yaml:"attributes"`

	// parameter name, e.g. "iLCBLat"
	Param string `json:"param" yaml:"param"`

	// string-encoded value
	Value string `json:"value" yaml:"value"`
}

// ExpParamObjs , ExpAttributes , and ExpParams describe the objects an
// experiment file may configure, the attributes that select them, and the
// parameters each accepts
var ExpParamObjs = []string{"Network", "Router", "Host"}

var ExpAttributes = map[string][]string{
	"Network": {"*"},
	"Router":  {"*", "id", "x", "y", "z"},
	"Host":    {"*", "id", "x", "y", "z"},
}

var ExpParams = map[string][]string{
	"Network": {"name", "clock", "network.xDimSize", "network.yDimSize", "network.zDimSize"},
	"Router": {"iLCBLat", "oLCBLat", "routingLat", "iQLat", "InputQSize_flits", "OutputQSize_flits",
		"Router2NodeQSize_flits", "Node2RouterQSize_flits", "overheadMult", "routing.xDateline",
		"routing.yDateline", "routing.zDateline", "routing.vcRemap", "debugInterval", "trace"},
	"Host": {"num_vc", "trace"},
}

// ValidateParameter checks that paramObj, attributes and param make sense together
func ValidateParameter(paramObj string, attributes []AttrbStruct, param string) error {
	if !slices.Contains(ExpParamObjs, paramObj) {
		return &ConfigError{Router: -1, Param: param, Value: paramObj, Reason: "unknown parameter object"}
	}
	for _, attrb := range attributes {
		if !slices.Contains(ExpAttributes[paramObj], attrb.AttrbName) {
			return &ConfigError{Router: -1, Param: param, Value: attrb.AttrbName,
				Reason: "attribute not allowed for " + paramObj}
		}
	}
	if !slices.Contains(ExpParams[paramObj], param) {
		return &ConfigError{Router: -1, Param: param, Reason: "not a parameter of " + paramObj}
	}
	return nil
}

// ExpCfg holds all of the ExpParameters for a named experiment
type ExpCfg struct {
	Name       string         `json:"expname" yaml:"expname"`
	Parameters []ExpParameter `json:"parameters" yaml:"parameters"`
}

// CreateExpCfg is a constructor
func CreateExpCfg(name string) *ExpCfg {
	return &ExpCfg{Name: name, Parameters: make([]ExpParameter, 0)}
}

// AddParameter validates and appends one parameter
func (excfg *ExpCfg) AddParameter(paramObj string, attributes []AttrbStruct, param, value string) error {
	if err := ValidateParameter(paramObj, attributes, param); err != nil {
		return err
	}
	excfg.Parameters = append(excfg.Parameters,
		ExpParameter{ParamObj: paramObj, Attributes: attributes, Param: param, Value: value})
	return nil
}

// Wildcard is the attribute list that matches every object
func Wildcard() []AttrbStruct {
	return []AttrbStruct{{AttrbName: "*"}}
}

// Validate checks every parameter in the configuration
func (excfg *ExpCfg) Validate() error {
	errs := make([]error, 0)
	for _, ep := range excfg.Parameters {
		errs = append(errs, ValidateParameter(ep.ParamObj, ep.Attributes, ep.Param))
	}
	return ReportErrs(errs)
}

// specificity ranks an attribute list: the wildcard is the most general,
// a router id the most specific, coordinates fall between by how many are named
func specificity(attrbs []AttrbStruct) int {
	rank := 0
	for _, attrb := range attrbs {
		switch attrb.AttrbName {
		case "*":
		case "id":
			rank += 10
		default:
			rank++
		}
	}
	return rank
}

// matches reports whether every attribute holds for the object with the given id and coordinates
func matches(attrbs []AttrbStruct, id int, coord [3]int) bool {
	for _, attrb := range attrbs {
		var have int
		switch attrb.AttrbName {
		case "*":
			continue
		case "id":
			have = id
		case "x", "y", "z":
			have = coord[strings.Index("xyz", attrb.AttrbName)]
		default:
			return false
		}
		if want, err := strconv.Atoi(attrb.AttrbValue); err != nil || want != have {
			return false
		}
	}
	return true
}

// ParamsFor resolves the parameters that apply to one object. Parameters are
// applied most general first, so that an id-scoped value overrides a
// coordinate-scoped one, which overrides a wildcard. Among equally specific
// entries the later one in the file wins.
func (excfg *ExpCfg) ParamsFor(paramObj string, id int, coord [3]int) Params {
	applies := make([]ExpParameter, 0)
	for _, ep := range excfg.Parameters {
		if ep.ParamObj == paramObj && matches(ep.Attributes, id, coord) {
			applies = append(applies, ep)
		}
	}
	sort.SliceStable(applies, func(i, j int) bool {
		return specificity(applies[i].Attributes) < specificity(applies[j].Attributes)
	})

	p := make(Params)
	for _, ep := range applies {
		p[ep.Param] = ep.Value
	}
	return p
}

// WriteToFile stores the ExpCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (excfg *ExpCfg) WriteToFile(filename string) error {
	var bytes []byte
	var merr error

	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*excfg)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*excfg, "", "\t")
	default:
		return errors.New("experiment file " + filename + " needs a .yaml, .yml or .json extension")
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// ReadExpCfg deserializes a byte slice holding a representation of an ExpCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExpCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// LoadExpCfg reads an experiment file, choosing yaml or json by extension, and validates it
func LoadExpCfg(filename string) (*ExpCfg, error) {
	ext := path.Ext(filename)
	useYAML := (ext == ".yaml") || (ext == ".yml")
	excfg, err := ReadExpCfg(filename, useYAML, []byte{})
	if err != nil {
		return nil, err
	}
	return excfg, excfg.Validate()
}

// ReportErrs joins the non-nil errors of a list into one, or returns nil.
// The joined error still matches each of its parts with errors.As.
func ReportErrs(errs []error) error {
	return errors.Join(errs...)
}

// CheckFiles makes sure the directory of every named file exists and, when
// checkExistence is set, that the file itself does
func CheckFiles(names []string, checkExistence bool) error {
	errs := make([]error, 0)
	for _, name := range names {
		if len(name) == 0 {
			continue
		}
		directory, _ := filepath.Split(name)
		if directory != "" {
			if _, err := os.Stat(directory); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return ReportErrs(errs)
}
