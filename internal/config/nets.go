package config

// DefaultServerNets is the built-in table of Zoom server networks, used when the
// configuration does not list any.
var DefaultServerNets = []string{
	"3.7.35.0/25",
	"3.21.137.128/25",
	"3.22.11.0/24",
	"3.23.93.0/24",
	"3.25.41.128/25",
	"3.25.42.0/25",
	"3.25.49.0/24",
	"3.80.20.128/25",
	"3.96.19.0/24",
	"3.101.32.128/25",
	"3.101.52.0/25",
	"3.104.34.128/25",
	"3.120.121.0/25",
	"3.127.194.128/25",
	"3.208.72.0/25",
	"3.211.241.0/25",
	"3.235.69.0/25",
	"3.235.82.0/23",
	"3.235.71.128/25",
	"3.235.72.128/25",
	"3.235.73.0/25",
	"3.235.96.0/23",
	"4.34.125.128/25",
	"4.35.64.128/25",
	"8.5.128.0/23",
	"13.52.6.128/25",
	"13.52.146.0/25",
	"18.157.88.0/24",
	"18.205.93.128/25",
	"20.203.158.80/28",
	"20.203.190.192/26",
	"50.239.202.0/23",
	"50.239.204.0/24",
	"52.61.100.128/25",
	"52.202.62.192/26",
	"52.215.168.0/25",
	"64.125.62.0/24",
	"64.211.144.0/24",
	"64.224.32.0/19",
	"65.39.152.0/24",
	"69.174.57.0/24",
	"69.174.108.0/22",
	"99.79.20.0/25",
	"101.36.167.0/24",
	"103.122.166.0/23",
	"111.33.115.0/25",
	"111.33.181.0/25",
	"115.110.154.192/26",
	"115.114.56.192/26",
	"115.114.115.0/26",
	"115.114.131.0/26",
	"120.29.148.0/24",
	"129.151.0.0/19",
	"129.151.40.0/22",
	"129.151.48.0/20",
	"129.159.0.0/20",
	"129.159.160.0/19",
	"129.159.208.0/20",
	"130.61.164.0/22",
	"134.224.0.0/16",
	"140.238.128.0/24",
	"140.238.232.0/22",
	"144.195.0.0/16",
	"147.124.96.0/19",
	"149.137.0.0/17",
	"150.230.224.0/21",
	"152.67.20.0/24",
	"152.67.118.0/24",
	"152.67.168.0/22",
	"152.67.180.0/24",
	"152.67.184.0/22",
	"152.67.240.0/21",
	"152.70.224.0/21",
	"156.45.0.0/17",
	"158.101.64.0/24",
	"158.101.184.0/22",
	"160.1.56.128/25",
	"161.199.136.0/22",
	"162.12.232.0/22",
	"162.255.36.0/22",
	"165.254.88.0/23",
	"166.108.64.0/18",
	"168.138.16.0/22",
	"168.138.48.0/24",
	"168.138.56.0/21",
	"168.138.72.0/24",
	"168.138.74.0/25",
	"168.138.80.0/21",
	"168.138.96.0/22",
	"168.138.116.0/22",
	"168.138.244.0/24",
	"170.114.0.0/16",
	"173.231.80.0/20",
	"192.204.12.0/22",
	"193.122.16.0/20",
	"193.122.32.0/20",
	"193.122.208.0/20",
	"193.122.224.0/20",
	"193.122.240.0/20",
	"193.123.0.0/19",
	"193.123.40.0/21",
	"193.123.128.0/19",
	"193.123.168.0/21",
	"193.123.192.0/19",
	"198.251.128.0/17",
	"202.177.207.128/27",
	"204.80.104.0/21",
	"204.141.28.0/22",
	"206.247.0.0/16",
	"207.226.132.0/24",
	"209.9.211.0/24",
	"209.9.215.0/24",
	"213.19.144.0/24",
	"213.19.153.0/24",
	"213.244.140.0/24",
	"221.122.88.64/27",
	"221.122.88.128/25",
	"221.122.89.128/25",
	"221.123.139.192/27",
}
