package main

// Version is the sensorfront release version
const Version = "v1.2.0"
