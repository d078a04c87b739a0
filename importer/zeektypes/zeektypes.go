// Package zeektypes defines the log record shapes emitted by the Zeek
// collector. Each struct carries json tags for the JSON-per-line encoding and
// zeek/zeektype tags for reflection-driven TSV parsing.
package zeektypes

// Conn is a connection record from conn.log
type Conn struct {
	TimeStamp       float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UID             string  `json:"uid" zeek:"uid" zeektype:"string"`
	Source          string  `json:"id.orig_h" zeek:"id.orig_h" zeektype:"addr"`
	SourcePort      int     `json:"id.orig_p" zeek:"id.orig_p" zeektype:"port"`
	Destination     string  `json:"id.resp_h" zeek:"id.resp_h" zeektype:"addr"`
	DestinationPort int     `json:"id.resp_p" zeek:"id.resp_p" zeektype:"port"`
	Proto           string  `json:"proto" zeek:"proto" zeektype:"enum"`
	Service         string  `json:"service" zeek:"service" zeektype:"string"`
	Duration        float64 `json:"duration" zeek:"duration" zeektype:"interval"`
	OrigBytes       int64   `json:"orig_bytes" zeek:"orig_bytes" zeektype:"count"`
	RespBytes       int64   `json:"resp_bytes" zeek:"resp_bytes" zeektype:"count"`
	ConnState       string  `json:"conn_state" zeek:"conn_state" zeektype:"string"`
	LocalOrig       bool    `json:"local_orig" zeek:"local_orig" zeektype:"bool"`
	LocalResp       bool    `json:"local_resp" zeek:"local_resp" zeektype:"bool"`
	MissedBytes     int64   `json:"missed_bytes" zeek:"missed_bytes" zeektype:"count"`
	History         string  `json:"history" zeek:"history" zeektype:"string"`
	OrigPackets     int64   `json:"orig_pkts" zeek:"orig_pkts" zeektype:"count"`
	OrigIPBytes     int64   `json:"orig_ip_bytes" zeek:"orig_ip_bytes" zeektype:"count"`
	RespPackets     int64   `json:"resp_pkts" zeek:"resp_pkts" zeektype:"count"`
	RespIPBytes     int64   `json:"resp_ip_bytes" zeek:"resp_ip_bytes" zeektype:"count"`
	LogPath         string  `json:"-"`
}

// DNS is a query record from dns.log
type DNS struct {
	TimeStamp       float64  `json:"ts" zeek:"ts" zeektype:"time"`
	UID             string   `json:"uid" zeek:"uid" zeektype:"string"`
	Source          string   `json:"id.orig_h" zeek:"id.orig_h" zeektype:"addr"`
	SourcePort      int      `json:"id.orig_p" zeek:"id.orig_p" zeektype:"port"`
	Destination     string   `json:"id.resp_h" zeek:"id.resp_h" zeektype:"addr"`
	DestinationPort int      `json:"id.resp_p" zeek:"id.resp_p" zeektype:"port"`
	Proto           string   `json:"proto" zeek:"proto" zeektype:"enum"`
	TransID         int64    `json:"trans_id" zeek:"trans_id" zeektype:"count"`
	RTT             float64  `json:"rtt" zeek:"rtt" zeektype:"interval"`
	Query           string   `json:"query" zeek:"query" zeektype:"string"`
	QClassName      string   `json:"qclass_name" zeek:"qclass_name" zeektype:"string"`
	QTypeName       string   `json:"qtype_name" zeek:"qtype_name" zeektype:"string"`
	RCodeName       string   `json:"rcode_name" zeek:"rcode_name" zeektype:"string"`
	Answers         []string `json:"answers" zeek:"answers" zeektype:"vector[string]"`
	Rejected        bool     `json:"rejected" zeek:"rejected" zeektype:"bool"`
	LogPath         string   `json:"-"`
}

// HTTP is a request record from http.log
type HTTP struct {
	TimeStamp       float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UID             string  `json:"uid" zeek:"uid" zeektype:"string"`
	Source          string  `json:"id.orig_h" zeek:"id.orig_h" zeektype:"addr"`
	SourcePort      int     `json:"id.orig_p" zeek:"id.orig_p" zeektype:"port"`
	Destination     string  `json:"id.resp_h" zeek:"id.resp_h" zeektype:"addr"`
	DestinationPort int     `json:"id.resp_p" zeek:"id.resp_p" zeektype:"port"`
	Method          string  `json:"method" zeek:"method" zeektype:"string"`
	Host            string  `json:"host" zeek:"host" zeektype:"string"`
	URI             string  `json:"uri" zeek:"uri" zeektype:"string"`
	Referrer        string  `json:"referrer" zeek:"referrer" zeektype:"string"`
	UserAgent       string  `json:"user_agent" zeek:"user_agent" zeektype:"string"`
	StatusCode      int64   `json:"status_code" zeek:"status_code" zeektype:"count"`
	RequestBodyLen  int64   `json:"request_body_len" zeek:"request_body_len" zeektype:"count"`
	ResponseBodyLen int64   `json:"response_body_len" zeek:"response_body_len" zeektype:"count"`
	LogPath         string  `json:"-"`
}

// SSL is a TLS handshake record from ssl.log
type SSL struct {
	TimeStamp        float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UID              string  `json:"uid" zeek:"uid" zeektype:"string"`
	Source           string  `json:"id.orig_h" zeek:"id.orig_h" zeektype:"addr"`
	SourcePort       int     `json:"id.orig_p" zeek:"id.orig_p" zeektype:"port"`
	Destination      string  `json:"id.resp_h" zeek:"id.resp_h" zeektype:"addr"`
	DestinationPort  int     `json:"id.resp_p" zeek:"id.resp_p" zeektype:"port"`
	Version          string  `json:"version" zeek:"version" zeektype:"string"`
	Cipher           string  `json:"cipher" zeek:"cipher" zeektype:"string"`
	ServerName       string  `json:"server_name" zeek:"server_name" zeektype:"string"`
	Resumed          bool    `json:"resumed" zeek:"resumed" zeektype:"bool"`
	Established      bool    `json:"established" zeek:"established" zeektype:"bool"`
	Subject          string  `json:"subject" zeek:"subject" zeektype:"string"`
	Issuer           string  `json:"issuer" zeek:"issuer" zeektype:"string"`
	ValidationStatus string  `json:"validation_status" zeek:"validation_status" zeektype:"string"`
	LogPath          string  `json:"-"`
}

// Notice is an alert record from notice.log
type Notice struct {
	TimeStamp       float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UID             string  `json:"uid" zeek:"uid" zeektype:"string"`
	Source          string  `json:"id.orig_h" zeek:"id.orig_h" zeektype:"addr"`
	SourcePort      int     `json:"id.orig_p" zeek:"id.orig_p" zeektype:"port"`
	Destination     string  `json:"id.resp_h" zeek:"id.resp_h" zeektype:"addr"`
	DestinationPort int     `json:"id.resp_p" zeek:"id.resp_p" zeektype:"port"`
	FUID            string  `json:"fuid" zeek:"fuid" zeektype:"string"`
	Proto           string  `json:"proto" zeek:"proto" zeektype:"enum"`
	Note            string  `json:"note" zeek:"note" zeektype:"string"`
	Msg             string  `json:"msg" zeek:"msg" zeektype:"string"`
	Sub             string  `json:"sub" zeek:"sub" zeektype:"string"`
	Src             string  `json:"src" zeek:"src" zeektype:"addr"`
	Dst             string  `json:"dst" zeek:"dst" zeektype:"addr"`
	Port            int     `json:"p" zeek:"p" zeektype:"port"`
	PeerDescr       string  `json:"peer_descr" zeek:"peer_descr" zeektype:"string"`
	Actions         []string `json:"actions" zeek:"actions" zeektype:"set[enum]"`
	SuppressFor     float64 `json:"suppress_for" zeek:"suppress_for" zeektype:"interval"`
	LogPath         string  `json:"-"`
}

// Files is a file transfer record from files.log
type Files struct {
	TimeStamp  float64  `json:"ts" zeek:"ts" zeektype:"time"`
	FUID       string   `json:"fuid" zeek:"fuid" zeektype:"string"`
	ConnUIDs   []string `json:"conn_uids" zeek:"conn_uids" zeektype:"set[string]"`
	Source     string   `json:"source" zeek:"source" zeektype:"string"`
	Depth      int64    `json:"depth" zeek:"depth" zeektype:"count"`
	Analyzers  []string `json:"analyzers" zeek:"analyzers" zeektype:"set[string]"`
	MimeType   string   `json:"mime_type" zeek:"mime_type" zeektype:"string"`
	Filename   string   `json:"filename" zeek:"filename" zeektype:"string"`
	MD5        string   `json:"md5" zeek:"md5" zeektype:"string"`
	SHA1       string   `json:"sha1" zeek:"sha1" zeektype:"string"`
	SeenBytes  int64    `json:"seen_bytes" zeek:"seen_bytes" zeektype:"count"`
	TotalBytes int64    `json:"total_bytes" zeek:"total_bytes" zeektype:"count"`
	LogPath    string   `json:"-"`
}

// Weird is a protocol anomaly record from weird.log
type Weird struct {
	TimeStamp       float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UID             string  `json:"uid" zeek:"uid" zeektype:"string"`
	Source          string  `json:"id.orig_h" zeek:"id.orig_h" zeektype:"addr"`
	SourcePort      int     `json:"id.orig_p" zeek:"id.orig_p" zeektype:"port"`
	Destination     string  `json:"id.resp_h" zeek:"id.resp_h" zeektype:"addr"`
	DestinationPort int     `json:"id.resp_p" zeek:"id.resp_p" zeektype:"port"`
	Name            string  `json:"name" zeek:"name" zeektype:"string"`
	Addl            string  `json:"addl" zeek:"addl" zeektype:"string"`
	Notice          bool    `json:"notice" zeek:"notice" zeektype:"bool"`
	Peer            string  `json:"peer" zeek:"peer" zeektype:"string"`
	LogPath         string  `json:"-"`
}
