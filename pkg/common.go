package common

var (
	//AppName is the name of the dashboard service
	AppName = "XDS Dashboard"
	//APIVersion is the version of the REST API served under /api/<APIVersion>
	APIVersion = "v1"
)
