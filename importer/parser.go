package importer

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cardeasec/cardea/importer/zeektypes"

	jsoniter "github.com/json-iterator/go"
)

var errUnknownFileType = errors.New("failed to parse log file: unknown file type or malformed header")
var errMalformedLine = errors.New("malformed log line")

// zeekRecord constrains the generic parser to the log record shapes the reader watches
type zeekRecord interface {
	zeektypes.Conn | zeektypes.DNS | zeektypes.HTTP | zeektypes.SSL |
		zeektypes.Notice | zeektypes.Files | zeektypes.Weird
}

// ZeekHeader stores vars in the header of the zeek log
type ZeekHeader[Z zeekRecord] struct {
	separator             string
	setSeparator          string
	emptyField            string
	unsetField            string
	path                  string
	open                  time.Time
	fieldOrder            []string
	rawFields             string
	rawTypes              string
	isTSV                 bool
	isJSON                bool
	headerToStructMapping map[string]int
	fsPath                string // actual file system path of log
}

// ZeekDateTimeFmt is the common format for zeek header datetimes
const ZeekDateTimeFmt = "2006-01-02-15-04-05"

// lineParser incrementally parses one log file's lines into records of type Z.
// The format (TSV vs JSON) is detected from the first lines seen; a TSV header
// arriving after rotation re-triggers detection via Reset.
type lineParser[Z zeekRecord] struct {
	header  ZeekHeader[Z]
	typeArr []string
	path    string
}

func newLineParser[Z zeekRecord](path string) *lineParser[Z] {
	p := &lineParser[Z]{path: path}
	p.Reset()
	return p
}

// Reset clears all header state. Called when the underlying file rotates.
func (p *lineParser[Z]) Reset() {
	p.header = ZeekHeader[Z]{
		fsPath:                p.path,
		headerToStructMapping: make(map[string]int),
	}
	p.typeArr = nil
}

// ParseLine parses a single log line. ok is false for header lines, comments
// and empty lines; err is set for lines that could not be parsed.
func (p *lineParser[Z]) ParseLine(line []byte) (entry Z, ok bool, err error) {
	if len(line) < 1 {
		return entry, false, nil
	}

	// if header type has not been set, attempt to determine log format
	if !p.header.isJSON && !p.header.isTSV {
		switch {
		// this line is a comment, try to parse header in tsv format;
		// multiple comment lines make up the header, so this arm runs once
		// per header line until data lines appear
		case line[0] == '#':
			p.typeArr, err = p.header.parseHeader(string(line))
			if err != nil {
				return entry, false, fmt.Errorf("unable to parse TSV Zeek header: %w", err)
			}
			return entry, false, nil

		// the line does not begin with a comment, check if it is json
		case line[0] == '{' && jsoniter.ConfigCompatibleWithStandardLibrary.Valid(line):
			p.header.isJSON = true

		default:
			// check if a tsv header was parsed successfully before this data line
			if p.header.separator != "" && len(p.header.fieldOrder) > 0 {
				p.header.isTSV = true
				if err := p.header.mapHeader(); err != nil {
					return entry, false, fmt.Errorf("could not detect valid TSV Zeek header: %w", err)
				}
			} else {
				return entry, false, errUnknownFileType
			}
		}
	}

	switch {
	case p.header.isJSON:
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(line, &entry); err != nil {
			return entry, false, fmt.Errorf("%w: %w", errMalformedLine, err)
		}

		// set log path field
		data := reflect.ValueOf(&entry).Elem()
		data.FieldByName("LogPath").SetString(p.path)
		return entry, true, nil

	case p.header.isTSV:
		// comments inside the body (including the closing #close line) are skipped
		if line[0] == '#' {
			return entry, false, nil
		}
		if err := p.parseTSVLine(string(line), &entry); err != nil {
			return entry, false, err
		}
		data := reflect.ValueOf(&entry).Elem()
		data.FieldByName("LogPath").SetString(p.path)
		return entry, true, nil
	}

	return entry, false, nil
}

// parseTSVLine walks the separator-delimited fields of a data line, assigning
// each to the struct field mapped from the header.
func (p *lineParser[Z]) parseTSVLine(line string, entry *Z) error {
	data := reflect.ValueOf(entry).Elem()

	// reset the entry just to be safe
	data.Set(reflect.Zero(data.Type()))

	var fieldErr error

	// set the end index of the field itself to the index of the next tab (or separator)
	fieldEndIndex := strings.Index(line, p.header.separator)

	idx := 0

	// loop through all but the last field in the line
	for fieldEndIndex > -1 && idx < len(p.header.fieldOrder) {
		// check if the header field is in the struct
		if p.header.headerToStructMapping[p.header.fieldOrder[idx]] > -1 {
			// parse field if not empty or unset
			if line[:fieldEndIndex] != p.header.emptyField && line[:fieldEndIndex] != p.header.unsetField {
				err := p.header.parseField(
					line[:fieldEndIndex],
					p.typeArr[idx],
					data.Field(p.header.headerToStructMapping[p.header.fieldOrder[idx]]))
				if err != nil && fieldErr == nil {
					fieldErr = fmt.Errorf("%w: field %s: %w", errMalformedLine, p.header.fieldOrder[idx], err)
				}
			}
		}
		// reslice line to the start of the next field
		line = line[fieldEndIndex+len(p.header.separator):]

		fieldEndIndex = strings.Index(line, p.header.separator)
		idx++
	}

	if fieldEndIndex == -1 && idx < len(p.header.fieldOrder)-2 {
		return fmt.Errorf("%w: truncated line", errMalformedLine)
	}

	// parse the last field
	if idx < len(p.header.fieldOrder) && line != p.header.emptyField && line != p.header.unsetField &&
		p.header.headerToStructMapping[p.header.fieldOrder[idx]] > -1 {
		err := p.header.parseField(
			line,
			p.typeArr[idx],
			data.Field(p.header.headerToStructMapping[p.header.fieldOrder[idx]]))
		if err != nil && fieldErr == nil {
			fieldErr = fmt.Errorf("%w: field %s: %w", errMalformedLine, p.header.fieldOrder[idx], err)
		}
	}

	return fieldErr
}

// parseHeader parses the header of a Zeek log in TSV format
func (header *ZeekHeader[Z]) parseHeader(line string) (typeArr []string, err error) {
	potentialFields := strings.Fields(line)
	if len(potentialFields) < 2 {
		return nil, nil
	}
	// grabs from the comment # to the space to get the first field value
	potentialFieldName := potentialFields[0][1:]
	potentialFieldValue := convertHexFieldValue(potentialFields[1])

	switch potentialFieldName {
	case "separator":
		header.separator = potentialFieldValue
	case "set_separator":
		header.setSeparator = potentialFieldValue
	case "unset_field":
		header.unsetField = potentialFieldValue
	case "path":
		header.path = potentialFieldValue
	case "empty_field":
		header.emptyField = potentialFieldValue
	case "open":
		var dateParseErr error
		header.open, dateParseErr = time.Parse(ZeekDateTimeFmt, potentialFieldValue)
		if dateParseErr != nil {
			return nil, fmt.Errorf("date not parsed for open field: %v", dateParseErr.Error())
		}
	case "fields":
		header.rawFields = line
	case "types":
		header.rawTypes = line
	}
	// map zeek fields and types, get field order
	if len(header.rawFields) > 0 && len(header.rawTypes) > 0 {
		splitFields := strings.Fields(header.rawFields)
		splitTypes := strings.Fields(header.rawTypes)

		splitFields = splitFields[1:]
		splitTypes = splitTypes[1:]

		if len(splitTypes) == len(splitFields) {
			typeArr = make([]string, len(splitFields))
			for idx := range splitFields {
				// track the field names and types by the order they appear in the header
				header.fieldOrder = append(header.fieldOrder, splitFields[idx])
				typeArr[idx] = splitTypes[idx]
			}
			return typeArr, nil
		}

		return nil, fmt.Errorf("mismatched header fields. zeek types: %v, zeek fields: %v", splitTypes, splitFields)
	}

	return typeArr, nil
}

// mapHeader maps the names of the fields found in the log header to the corresponding
// struct field's index. This allows the struct to be dynamically populated using reflection.
func (header *ZeekHeader[Z]) mapHeader() error {
	// creates an empty object of the generic type so that reflect can determine which
	// log type we are dealing with
	var entry Z
	structType := reflect.TypeOf(entry)

	for i := 0; i < structType.NumField(); i++ {
		structField := structType.Field(i)
		zeekName := structField.Tag.Get("zeek")
		zeekType := structField.Tag.Get("zeektype")

		// If this field is not associated with zeek, skip it
		if len(zeekName) == 0 && len(zeekType) == 0 {
			continue
		}

		if len(zeekName) == 0 || len(zeekType) == 0 {
			return errors.New("invalid zeek field")
		}

		header.headerToStructMapping[zeekName] = i
	}

	// Make sure that fields that are in the header and not in the struct definition get ignored.
	// Setting the mapping for unknown header fields to -1 prevents the zero value of the map
	// from aliasing struct field 0.
	for _, headerName := range header.fieldOrder {
		if _, ok := header.headerToStructMapping[headerName]; !ok {
			header.headerToStructMapping[headerName] = -1
		}
	}

	return nil
}

// parseField parses a single field in a zeek log record
func (header *ZeekHeader[Z]) parseField(value string, zeekType string, resultField reflect.Value) error {
	// handle data cleaning / conversion for the different zeek types
	switch zeekType {
	case "time":
		fallthrough
	case "interval":
		floatVal, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("couldn't convert zeektype %s: %v", zeekType, err.Error())
		}
		resultField.SetFloat(floatVal)
	case "string":
		fallthrough
	case "enum":
		fallthrough
	case "addr":
		resultField.SetString(value)
	case "count":
		countInt, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("couldn't convert zeektype count: %v", err.Error())
		}
		resultField.SetInt(countInt)
	case "port":
		portInt, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("couldn't convert zeektype port: %v", err.Error())
		}
		resultField.SetInt(int64(portInt))
	case "bool":
		boolCvt, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("couldn't convert zeektype bool: %v", err.Error())
		}
		resultField.SetBool(boolCvt)
	case "set[string]":
		fallthrough
	case "set[enum]":
		fallthrough
	case "vector[string]":
		strsSplit := strings.Split(value, header.setSeparator)
		tval := reflect.ValueOf(strsSplit)
		resultField.Set(tval)
	case "vector[interval]":
		var intervals []float64
		strNums := strings.Split(value, header.setSeparator)
		for _, str := range strNums {
			intervalFloat, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
			if err != nil {
				return fmt.Errorf("couldn't convert zeektype: vector[interval] %w", err)
			}
			intervals = append(intervals, intervalFloat)
		}
		tval := reflect.ValueOf(intervals)
		resultField.Set(tval)
	default:
	}

	return nil
}

// convertHexFieldValue converts any hex encoded zeek field values to normal characters
// if err is true, conversion was not needed and original value is returned
// ie: tab char = \x09
func convertHexFieldValue(givenValue string) string {
	newValue, err := strconv.Unquote("\"" + givenValue + "\"")
	if err != nil {
		return givenValue
	}
	return newValue
}
